package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pallets/internal/pallet"
	_ "github.com/odyssey-erp/odyssey-pallets/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@localhost:5432/pallets")
	t.Setenv("READ_ONLY_ACTORS", "auditor,viewer")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 3, cfg.TxMaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.TxBaseDelay)
	require.Equal(t, 24*time.Hour, cfg.CacheTTL)
	require.Equal(t, "SPC", cfg.SpecialClientCode)
	require.Equal(t, []string{"auditor", "viewer"}, cfg.ReadOnlyActors)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			PGDSN:             "postgres://localhost/pallets",
			TxIsolation:       "serializable",
			TxMaxAttempts:     1,
			SpecialClientCode: "SPC",
			SpecialClientName: "SPECIAL CLIENT",
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"missing dsn":       func(c *Config) { c.PGDSN = "" },
		"unknown isolation": func(c *Config) { c.TxIsolation = "snapshot" },
		"zero attempts":     func(c *Config) { c.TxMaxAttempts = 0 },
		"negative delay":    func(c *Config) { c.TxBaseDelay = -time.Second },
		"half special pair": func(c *Config) { c.SpecialClientName = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestCapabilityCheckerReadOnlyActors(t *testing.T) {
	caps := NewCapabilityChecker(&Config{ReadOnlyActors: []string{" Auditor ", ""}})
	ctx := context.Background()

	require.True(t, caps.Can(ctx, "operator", pallet.CapabilityClose))
	require.False(t, caps.Can(ctx, "auditor", pallet.CapabilityCreate))
	require.False(t, caps.Can(ctx, "AUDITOR", pallet.CapabilityMove))
	require.True(t, caps.Can(ctx, "auditor", pallet.CapabilityPrint))

	require.True(t, NewCapabilityChecker(nil).Can(ctx, "anyone", pallet.CapabilityEdit))
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "v", line["k"])

	require.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRouterProbes(t *testing.T) {
	var discard bytes.Buffer
	logger := newLogger(&Config{LogLevel: "error"}, &discard)
	healthy := true
	router := NewRouter(RouterParams{
		Logger: logger,
		Config: &Config{RateLimitPerMin: 1000},
		Database: pingFunc(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		}),
	})

	probe := func(path string) int {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr.Code
	}

	require.Equal(t, http.StatusOK, probe("/healthz"))
	require.Equal(t, http.StatusOK, probe("/readyz"))
	healthy = false
	require.Equal(t, http.StatusServiceUnavailable, probe("/readyz"))
	require.Equal(t, http.StatusOK, probe("/healthz"))
}

func TestTestModeFlag(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	require.True(t, InTestMode(), "test binaries start in test mode")
	require.NotEmpty(t, os.Getenv("PG_DSN"))

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
