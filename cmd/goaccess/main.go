// Command goaccess serves the goAccess HTTP API.
//
// Configuration is read from the YAML file named by -config and from
// GOACCESS_* environment variables, for example GOACCESS_REDIS_ADDR.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/goAccess/httpapi"
	"github.com/MrEthical07/goAccess/internal/bootstrap"
	goaccessprom "github.com/MrEthical07/goAccess/metrics/export/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("GOACCESS_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "goaccess: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	rt, err := bootstrap.Load(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.Logger

	for _, w := range rt.Config.Lint() {
		log.Warn("configuration warning", zap.String("code", w.Code), zap.String("message", w.Message))
	}

	oidcProvider, samlProvider, err := rt.SSO(ctx)
	if err != nil {
		return err
	}

	api := httpapi.New(rt.Engine, httpapi.Options{
		OIDC:       oidcProvider,
		SAML:       samlProvider,
		TrustProxy: rt.Viper.GetBool(bootstrap.KeyTrustProxy),
		Logger:     log,
	})
	router := api.Router()
	router.HandleFunc("/healthz", health(rt)).Methods(http.MethodGet)
	if rt.Config.Metrics.Enabled {
		router.Handle("/metrics", goaccessprom.NewPrometheusExporter(rt.Engine).Handler()).Methods(http.MethodGet)
	}

	srv := &http.Server{
		Addr:              rt.Viper.GetString(bootstrap.KeyHTTPAddr),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go maintain(ctx, rt)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.Viper.GetDuration(bootstrap.KeyShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// health reports 503 while Redis or the database is unreachable.
func health(rt *bootstrap.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		if _, err := rt.Engine.SessionBackendLatency(ctx); err != nil {
			rt.Logger.Warn("health: session backend", zap.Error(err))
			status = http.StatusServiceUnavailable
		}
		if err := rt.Store.Ping(ctx); err != nil {
			rt.Logger.Warn("health: database", zap.Error(err))
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
	}
}

const purgeInterval = 24 * time.Hour

// maintain sweeps expired sessions every cleanup interval and applies the
// audit retention once a day until ctx is cancelled.
func maintain(ctx context.Context, rt *bootstrap.Runtime) {
	interval := rt.Viper.GetDuration(bootstrap.KeyCleanupInterval)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastPurge time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := rt.Engine.CleanupExpiredSessions(ctx); err != nil {
			rt.Logger.Warn("session cleanup failed", zap.Error(err))
		} else if n > 0 {
			rt.Logger.Info("expired sessions cleaned up", zap.Int("count", n))
		}
		if time.Since(lastPurge) < purgeInterval {
			continue
		}
		if _, err := rt.Engine.PurgeAuditLog(ctx, 0); err != nil {
			rt.Logger.Warn("audit purge failed", zap.Error(err))
			continue
		}
		lastPurge = time.Now()
	}
}
