// Package notificationservice assembles the gateway's pushkins, registry,
// and HTTP surface from a loaded config.Config, the way the teacher's
// Wrapper assembled its pipeline and token API from config.Config.
package notificationservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sygnalgo/pushgateway/internal/api"
	"github.com/sygnalgo/pushgateway/internal/gateway"
	"github.com/sygnalgo/pushgateway/internal/platform/apns"
	"github.com/sygnalgo/pushgateway/internal/platform/degrade"
	"github.com/sygnalgo/pushgateway/internal/platform/fcm"
	"github.com/sygnalgo/pushgateway/internal/platform/limiter"
	"github.com/sygnalgo/pushgateway/internal/platform/web"
	"github.com/sygnalgo/pushgateway/notificationservice/config"
	"github.com/sygnalgo/pushgateway/pkg/dispatch"
)

// Wrapper owns the gateway's registry and HTTP server, and is responsible
// for bringing both up and taking both down cleanly.
type Wrapper struct {
	httpServer *http.Server
	registry   *dispatch.Registry
	logger     *slog.Logger
}

// New builds every configured pushkin, wires them into a registry and
// gateway, and mounts the HTTP routes. It fails fast if any pushkin's
// config is unusable (spec.md §6: credentials are parsed at startup).
func New(cfg *config.Config, logger *slog.Logger) (*Wrapper, error) {
	degraded, err := newDegradeStore(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}

	registry := dispatch.NewRegistry()
	limiters := make(map[string]*limiter.Semaphore)

	for _, entry := range cfg.Apps {
		appID, app := entry.AppID, entry.AppConfig
		pk, err := buildPushkin(appID, app, cfg.Proxy.URL, degraded, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(appID, pk)
		if app.MaxInFlight > 0 {
			limiters[appID] = limiter.New(app.MaxInFlight)
		}
	}

	gw := gateway.New(registry, limiters, logger)

	mux := http.NewServeMux()
	mux.Handle("POST /_matrix/push/v1/notify", api.NewNotifyHandler(gw, cfg.HTTP.MaxRequestBytes, logger))
	mux.HandleFunc("GET /health", api.HealthHandler)
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return &Wrapper{
		httpServer: &http.Server{
			Addr:              cfg.HTTP.ListenAddr,
			Handler:           api.WithRequestID(logger, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		registry: registry,
		logger:   logger,
	}, nil
}

func buildPushkin(appID string, app config.AppConfig, globalProxyURL string, degraded degrade.Store, logger *slog.Logger) (dispatch.Pushkin, error) {
	switch app.Type {
	case "apns":
		return apns.NewDispatcher(apns.Config{
			AppID:          appID,
			CertFile:       app.CertFile,
			KeyFile:        app.KeyFile,
			KeyID:          app.KeyID,
			TeamID:         app.TeamID,
			Topic:          app.Topic,
			Platform:       app.Platform,
			PushType:       app.PushType,
			ExpirySeconds:  app.ExpirySeconds,
			ProxyURL:       app.ProxyURL,
			GlobalProxyURL: globalProxyURL,
			MaxConnections: app.MaxConnections,
		}, degraded, logger)
	case "fcm":
		return fcm.NewDispatcher(fcm.Config{
			AppID:              appID,
			APIVersion:         app.APIVersion,
			APIKey:             app.APIKey,
			ProjectID:          app.ProjectID,
			ServiceAccountFile: app.ServiceAccountFile,
			ProxyURL:           app.ProxyURL,
			GlobalProxyURL:     globalProxyURL,
			MaxConnections:     app.MaxConnections,
		}, degraded, logger)
	case "webpush":
		return web.NewDispatcher(web.Config{
			AppID:            appID,
			VAPIDPublicKey:   app.VAPIDPublicKey,
			VAPIDPrivateKey:  app.VAPIDPrivateKey,
			Subscriber:       app.Subscriber,
			DefaultTTL:       app.DefaultTTL,
			AllowedEndpoints: app.AllowedEndpoints,
			ProxyURL:         app.ProxyURL,
			GlobalProxyURL:   globalProxyURL,
			MaxConnections:   app.MaxConnections,
		}, degraded, logger)
	default:
		return nil, fmt.Errorf("notificationservice: app %s: unknown pushkin type %q", appID, app.Type)
	}
}

func newDegradeStore(cfg config.RedisConfig, logger *slog.Logger) (degrade.Store, error) {
	if cfg.Addr == "" {
		return degrade.NewMemStore(), nil
	}
	store, err := degrade.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("notificationservice: %w", err)
	}
	logger.Info("degrade state backed by redis", "addr", cfg.Addr)
	return store, nil
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (w *Wrapper) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("listening", "addr", w.httpServer.Addr)
		if err := w.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return w.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests and closes the idle HTTP/2
// connections of every pushkin.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := w.httpServer.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	for _, pk := range w.registry.All() {
		if err := pk.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
