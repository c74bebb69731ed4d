package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
)

type Config struct {
	Addr           string
	Port           int
	BackendURI     string
	HTTPAddr       string
	LogLevel       string
	WriteTimeout   time.Duration
	WakeupInterval time.Duration
}

// ListenAddr is the host:port the job server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("config: write timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.WakeupInterval <= 0 {
		return fmt.Errorf("config: wakeup interval must be positive, got %s", c.WakeupInterval)
	}
	return nil
}

// Flags are the global flags shared by every subcommand.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Value:   "127.0.0.1",
			Usage:   "bind addr",
			EnvVars: []string{"GEARBROKER_LISTEN"},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   4730,
			Usage:   "port",
			EnvVars: []string{"GEARBROKER_PORT"},
		},
		&cli.StringFlag{
			Name:    "storage",
			Value:   "mem://",
			Usage:   "storage URI [redis, mem, sqlite, leveldb, memdb, none]",
			EnvVars: []string{"GEARBROKER_STORAGE"},
		},
		&cli.StringFlag{
			Name:    "http",
			Value:   ":8081",
			Usage:   "HTTP API addr, empty disables it",
			EnvVars: []string{"GEARBROKER_HTTP"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "trace, debug, info, warn or error",
			EnvVars: []string{"GEARBROKER_LOG_LEVEL"},
		},
		&cli.DurationFlag{
			Name:    "write-timeout",
			Value:   5 * time.Second,
			Usage:   "deadline for a single write to a peer",
			EnvVars: []string{"GEARBROKER_WRITE_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "wakeup-interval",
			Value:   time.Second,
			Usage:   "how often sleeping workers are told about due scheduled jobs",
			EnvVars: []string{"GEARBROKER_WAKEUP_INTERVAL"},
		},
	}
}

func FromContext(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Addr:           c.String("listen"),
		Port:           c.Int("port"),
		BackendURI:     c.String("storage"),
		HTTPAddr:       c.String("http"),
		LogLevel:       c.String("log-level"),
		WriteTimeout:   c.Duration("write-timeout"),
		WakeupInterval: c.Duration("wakeup-interval"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
