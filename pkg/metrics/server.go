package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/sexpc/internal/logger"
)

// ServerConfig configures the metrics HTTP endpoint.
type ServerConfig struct {
	// Enabled controls whether the endpoint is served at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress defaults to 127.0.0.1, matching the engine's
	// loopback-only posture.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the HTTP port for /metrics and /healthz.
	Port int `mapstructure:"port" yaml:"port"`
}

func (c *ServerConfig) applyDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 9179
	}
}

// Serve exposes /metrics and /healthz until ctx is cancelled. Blocks.
func (m *Metrics) Serve(ctx context.Context, config ServerConfig) error {
	config.applyDefaults()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.BindAddress, config.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics server listening", logger.KeyPort, config.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
