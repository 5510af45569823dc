// Package app wires the labdash dashboard client runtime: config, logging,
// credential persistence, the session controller, the realtime manager and
// the local status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"labdash/cmd/internal/auth/authapi"
	"labdash/cmd/internal/auth/session"
	"labdash/cmd/internal/realtime"
)

// App owns the client runtime and the resources it opened.
type App struct {
	cfg Config
	log Logger

	reg   *prometheus.Registry
	creds credentialDeps

	api     *authapi.Client
	session *session.Controller
	rt      *realtime.Manager
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	creds, err := buildCredentialStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := newApp(cfg, log, reg, creds)
	if err != nil {
		creds.Close()
		return nil, err
	}
	return a, nil
}

func newApp(cfg Config, log Logger, reg *prometheus.Registry, creds credentialDeps) (*App, error) {
	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("auth api: %w", err)
	}
	var apiOpts []authapi.Option
	if creds.jar != nil {
		apiOpts = append(apiOpts, authapi.WithHTTPClient(&http.Client{Timeout: apiCfg.Timeout, Jar: creds.jar}))
	}
	api, err := authapi.New(apiCfg, log, apiOpts...)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sess, err := session.NewController(sessCfg, api, creds.store, log, session.WithMetrics(session.NewMetrics(reg)))
	if err != nil {
		return nil, err
	}

	rtCfg, err := realtime.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	rt, err := realtime.NewManager(rtCfg, sess, log, realtime.WithMetrics(realtime.NewMetrics(reg)))
	if err != nil {
		return nil, err
	}

	for _, room := range cfg.Rooms {
		if err := rt.Join(room); err != nil {
			return nil, fmt.Errorf("%w: rooms: %v", ErrConfig, err)
		}
	}
	registerEventLog(rt.Dispatcher(), log)

	return &App{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		creds:   creds,
		api:     api,
		session: sess,
		rt:      rt,
	}, nil
}

// Session returns the session controller.
func (a *App) Session() *session.Controller { return a.session }

// Realtime returns the realtime connection manager.
func (a *App) Realtime() *realtime.Manager { return a.rt }

// Run restores (or establishes) the session, keeps the realtime connection
// bound to it and serves the status endpoints until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	unbind := bindRealtime(a.session, a.rt, a.log)
	defer unbind()

	g, gctx := errgroup.WithContext(ctx)

	if err := a.rt.Start(gctx); err != nil && !errors.Is(err, realtime.ErrNotAuthenticated) {
		return err
	}

	g.Go(func() error {
		a.signIn(gctx)
		return nil
	})

	if a.cfg.StatusAddr != "" {
		g.Go(func() error { return a.serveStatus(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.rt.Close()
		a.session.Close()
		return nil
	})

	err := g.Wait()
	a.creds.Close()
	a.log.Info("app.stopped")
	return err
}

// signIn restores stored credentials, falling back to the configured
// headless login. Failures are logged; the client stays anonymous.
func (a *App) signIn(ctx context.Context) {
	if err := a.session.LoadUser(ctx); err != nil {
		a.log.Warn("session.restore.fail", "err", err)
	}
	if a.session.IsAuthenticated() || a.cfg.LoginEmail == "" {
		return
	}

	err := a.session.Login(ctx, session.Credentials{
		Email:      a.cfg.LoginEmail,
		Password:   a.cfg.LoginPassword,
		RememberMe: a.cfg.RememberMe,
	})
	if err != nil && ctx.Err() == nil {
		a.log.Warn("session.login.fail", "err", err)
	}
}

func (a *App) serveStatus(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, statusDeps{
		log:      a.log,
		cfg:      a.cfg,
		gatherer: a.reg,
		session:  a.session,
		rt:       a.rt,
		pool:     a.creds.pool,
	})

	srv := &http.Server{
		Addr:              a.cfg.StatusAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log)),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("status.start", "addr", a.cfg.StatusAddr, "url", runtimeBaseURL(a.cfg.StatusAddr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("status.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("status.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("status.shutdown.fail", "err", err)
		return err
	}
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
