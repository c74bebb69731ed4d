package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gearbroker/pkg/admin"
	"gearbroker/pkg/config"
	"gearbroker/pkg/consts"
	"gearbroker/pkg/daemon"
	"gearbroker/pkg/handler"
	"gearbroker/pkg/http"
	"gearbroker/pkg/jobstore"
	"gearbroker/pkg/storage"
	"gearbroker/pkg/subcmd"

	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "gearbroker",
		Usage:   "Gearman compatible job server",
		Version: consts.VERSION,
		Flags:   config.Flags(),
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the job server (default)",
				Action: serve,
			},
			{
				Name:  "status",
				Usage: "Show per function status of a running server",
				Action: func(c *cli.Context) error {
					cfg, err := config.FromContext(c)
					if err != nil {
						return err
					}
					return subcmd.ShowStatus(c.Context, cfg.ListenAddr(), os.Stdout)
				},
			},
			{
				Name:      "submit",
				Usage:     "Submit a job and print its result",
				ArgsUsage: "<function> [workload]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "unique",
						Usage: "unique id, generated by the server when empty",
					},
					&cli.StringFlag{
						Name:  "priority",
						Value: "normal",
						Usage: "high, normal or low",
					},
					&cli.BoolFlag{
						Name:  "background",
						Usage: "print the job handle instead of waiting",
					},
				},
				Action: submit,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func submit(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	if c.NArg() < 1 {
		cli.ShowCommandHelp(c, "submit")
		return fmt.Errorf("function name is required")
	}

	var priority consts.Priority
	switch strings.ToLower(c.String("priority")) {
	case "high":
		priority = consts.PriorityHigh
	case "normal":
		priority = consts.PriorityNormal
	case "low":
		priority = consts.PriorityLow
	default:
		return fmt.Errorf("unknown priority %q", c.String("priority"))
	}

	job := subcmd.Job{
		Func:       c.Args().Get(0),
		Unique:     c.String("unique"),
		Data:       []byte(c.Args().Get(1)),
		Priority:   priority,
		Background: c.Bool("background"),
	}

	if err := subcmd.SubmitJob(c.Context, cfg.ListenAddr(), job, os.Stdout); err != nil {
		return err
	}
	if !job.Background {
		fmt.Println()
	}
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "gearbroker",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	engine, err := storage.NewStorage(cfg.BackendURI)
	if err != nil {
		log.Error("opening storage", "uri", cfg.BackendURI, "error", err)
		return err
	}

	store := jobstore.New(engine, jobstore.WithLogger(log.Named("jobstore")))
	defer store.Close()

	store.LoadAllJobs()

	d := daemon.New(cfg.ListenAddr(), cfg.BackendURI, nil, log.Named("daemon"))
	ctx, stop := d.HandleSignals(c.Context)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adm := admin.New(store, cancel)
	d.Handler = handler.New(store, adm, log.Named("handler"), cfg.WriteTimeout).Serve

	go store.WakeScheduled(ctx, cfg.WakeupInterval)

	if cfg.HTTPAddr != "" {
		api := http.NewAPI(store, log.Named("http"))
		go func() {
			if err := http.Serve(ctx, cfg.HTTPAddr, api.Router(), log.Named("http")); err != nil {
				log.Error("http api stopped", "error", err)
			}
		}()
	}

	return d.ListenAndServe(ctx)
}
