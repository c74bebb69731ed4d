package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gearbroker/pkg/jobstore"
	"gearbroker/pkg/models"
	"gearbroker/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API exposes the broker state read-only over HTTP.
type API struct {
	store    *jobstore.Store
	registry *prometheus.Registry
	log      hclog.Logger
}

// JobView is a job as the HTTP API reports it. Live jobs carry their state,
// persisted-only jobs report "PERSISTED".
type JobView struct {
	*models.Record
	State string `json:"state"`
}

func NewAPI(store *jobstore.Store, log hclog.Logger) *API {
	registry := prometheus.NewRegistry()
	registry.MustRegister(store.Metrics().Collectors()...)

	return &API{
		store:    store,
		registry: registry,
		log:      log,
	}
}

func (a *API) SetupRoutes(router *gin.Engine) {
	router.GET("/status", a.getStatus)
	router.GET("/workers", a.listWorkers)
	router.GET("/jobs/:handle", a.getJob)
	router.GET("/persisted", a.listPersisted)
	router.GET("/health", a.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
}

// Router builds a gin engine with the API routes mounted.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), a.logRequests)
	a.SetupRoutes(router)
	return router
}

func (a *API) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	a.log.Trace("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "took", time.Since(start))
}

// getStatus handles GET /status. ?format=text answers like the admin protocol.
func (a *API) getStatus(c *gin.Context) {
	fns := a.store.Status()

	if c.Query("format") != "text" {
		c.JSON(http.StatusOK, fns)
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	for _, fn := range fns {
		fmt.Fprintf(c.Writer, "%s\t%d\t%d\t%d\n", fn.Name, fn.Jobs, fn.InProgress, fn.Workers)
	}
	c.Writer.WriteString(".\n")
}

func (a *API) listWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, a.store.Workers())
}

// getJob handles GET /jobs/:handle. The live index wins over the engine.
func (a *API) getJob(c *gin.Context) {
	handle := c.Param("handle")

	if job, ok := a.store.Job(handle); ok {
		c.JSON(http.StatusOK, JobView{Record: job.Record(), State: job.State().String()})
		return
	}

	engine := a.store.Engine()
	if engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	rec, err := engine.FindJobByHandle(handle)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		a.log.Warn("job lookup failed", "handle", handle, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, JobView{Record: rec, State: "PERSISTED"})
}

func (a *API) listPersisted(c *gin.Context) {
	engine := a.store.Engine()
	if engine == nil {
		c.JSON(http.StatusOK, []*models.Record{})
		return
	}

	recs, err := engine.ReadAll()
	if err != nil {
		a.log.Warn("reading persisted jobs", "error", err)
		if len(recs) == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if recs == nil {
		recs = []*models.Record{}
	}

	c.JSON(http.StatusOK, recs)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve runs the API on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, log hclog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("http api listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
