// Command observer serves the jobs a broker has persisted, read straight from
// the storage engine. It never touches a running broker.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"

	"gearbroker/pkg/config"
	gbhttp "gearbroker/pkg/http"
	"gearbroker/pkg/models"
	"gearbroker/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"
)

type observer struct {
	engine storage.Engine
	log    hclog.Logger
}

func (o *observer) summary(c *gin.Context) {
	recs, err := o.engine.ReadAll()
	if err != nil {
		o.log.Warn("reading persisted jobs", "error", err)
	}

	counts := map[string]int{}
	for _, r := range recs {
		counts[r.Func]++
	}

	fns := make([]string, 0, len(counts))
	for fn := range counts {
		fns = append(fns, fn)
	}
	sort.Strings(fns)

	c.Status(http.StatusOK)
	for _, fn := range fns {
		fmt.Fprintf(c.Writer, "%s\t%d\n", fn, counts[fn])
	}
	c.Writer.WriteString(".\n")
}

func (o *observer) list(c *gin.Context) {
	recs, err := o.engine.ReadAll()
	if err != nil && len(recs) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (o *observer) job(c *gin.Context) {
	rec, err := o.engine.FindJobByHandle(c.Param("handle"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gbhttp.JobView{Record: rec, State: "PERSISTED"})
}

func (o *observer) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/status", o.summary)
	router.GET("/jobs", o.list)
	router.GET("/jobs/:handle", o.job)
	return router
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	if cfg.HTTPAddr == "" {
		return errors.New("observer needs --http")
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "observer",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	engine, err := storage.NewStorage(cfg.BackendURI)
	if err != nil {
		return err
	}
	if engine == nil {
		return fmt.Errorf("storage %q keeps nothing to observe", cfg.BackendURI)
	}
	defer engine.Close()

	o := &observer{engine: engine, log: log}
	return gbhttp.Serve(c.Context, cfg.HTTPAddr, o.router(), log)
}

func main() {
	app := &cli.App{
		Name:   "observer",
		Usage:  "Browse the jobs persisted by gearbroker",
		Flags:  config.Flags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
