package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonwraymond/toolauth/audit"
	"github.com/jonwraymond/toolauth/auth"
	"github.com/jonwraymond/toolauth/config"
	"github.com/jonwraymond/toolauth/dispatch"
	"github.com/jonwraymond/toolauth/identity"
	"github.com/jonwraymond/toolauth/identity/sqlite"
	"github.com/jonwraymond/toolauth/observe"
	"github.com/jonwraymond/toolauth/secret"
)

// app is the process wiring shared by every command. It is built once per
// command from the loaded configuration.
type app struct {
	cfg        *config.Config
	mode       auth.Mode
	logger     observe.Logger
	obs        observe.Observer
	store      identity.Store
	events     *sqlite.Store
	httpClient *http.Client
	resolver   *auth.Resolver
	dispatcher *dispatch.Dispatcher
}

func loadConfig(path string) (*config.Config, auth.Mode, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	mode, err := auth.ResolveMode(cfg.Auth)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	return cfg, mode, nil
}

func newApp(ctx context.Context, configPath string, logOut io.Writer) (_ *app, err error) {
	cfg, mode, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		mode:       mode,
		logger:     observe.NewLoggerWithWriter(cfg.Observe.LogLevel, logOut),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	oc := cfg.ObserveConfig()
	oc.Version = version
	oc.Logging.Enabled = false
	if a.obs, err = observe.NewObserver(ctx, oc); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	metrics, err := observe.NewMetrics(a.obs.Meter())
	if err != nil {
		return nil, err
	}

	sinks := audit.MultiSink{audit.NewLoggerSink(a.logger)}
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open identity store: %w", err)
		}
		a.store, a.events = st, st
		sinks = append(sinks, st)
	default:
		a.store = identity.NewMemoryStore()
	}

	secrets, err := secret.DefaultRegistry.NewResolver(cfg.Secrets.Strict, map[string]any{
		"file": map[string]any{"base_dir": cfg.Secrets.FileBaseDir},
	})
	if err != nil {
		return nil, err
	}

	a.resolver, err = auth.New(ctx, cfg.Auth, auth.Dependencies{
		Store:      a.store,
		Secrets:    secrets,
		HTTPClient: a.httpClient,
		Logger:     a.logger,
	}, auth.WithResolverMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	registry, err := demoTools()
	if err != nil {
		return nil, err
	}
	gate := auth.NewGate(mode, sinks, auth.WithGateLogger(a.logger), auth.WithGateMetrics(metrics))
	mw := observe.NewMiddleware(observe.NewTracer(a.obs.Tracer()), metrics, a.logger, dispatch.Classifier())
	a.dispatcher, err = dispatch.New(registry, a.resolver, gate,
		dispatch.WithMiddleware(mw),
		dispatch.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close flushes telemetry and closes the store.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.obs != nil {
		errs = append(errs, a.obs.Shutdown(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
