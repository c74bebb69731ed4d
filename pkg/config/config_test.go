package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func run(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	var cfg *Config
	var err error

	app := &cli.App{
		Name:  "gearbroker",
		Flags: Flags(),
		Action: func(c *cli.Context) error {
			cfg, err = FromContext(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"gearbroker"}, args...)))
	return cfg, err
}

func TestDefaults(t *testing.T) {
	cfg, err := run(t)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4730", cfg.ListenAddr())
	assert.Equal(t, "mem://", cfg.BackendURI)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, time.Second, cfg.WakeupInterval)
}

func TestFlagsAndEnv(t *testing.T) {
	t.Setenv("GEARBROKER_STORAGE", "leveldb:///var/lib/gearbroker")

	cfg, err := run(t, "--listen", "0.0.0.0", "-p", "4731", "--http", "", "--write-timeout", "250ms")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4731", cfg.ListenAddr())
	assert.Equal(t, "leveldb:///var/lib/gearbroker", cfg.BackendURI)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.WriteTimeout)
}

func TestValidate(t *testing.T) {
	_, err := run(t, "--port", "70000")
	assert.Error(t, err)

	_, err = run(t, "--wakeup-interval", "0s")
	assert.Error(t, err)
}
