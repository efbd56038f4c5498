package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"

	"github.com/namikmesic/tenant-session/internal/api"
	"github.com/namikmesic/tenant-session/internal/auth"
	"github.com/namikmesic/tenant-session/internal/bus"
	"github.com/namikmesic/tenant-session/internal/chat"
	"github.com/namikmesic/tenant-session/internal/config"
	"github.com/namikmesic/tenant-session/internal/credential"
	"github.com/namikmesic/tenant-session/internal/oauth"
	"github.com/namikmesic/tenant-session/internal/refresh"
	"github.com/namikmesic/tenant-session/internal/storage"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// app holds the wired session layer for one command invocation.
type app struct {
	cfg    *config.Config
	store  *credential.Store
	api    *api.Client
	auth   *auth.Service
	chat   *chat.Client
	bridge *oauth.Bridge
	reauth *oauth.Reauthorizer
	nc     *nats.Conn

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse BASE_URL: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	hc := &http.Client{Jar: jar}

	backend, err := a.tokenBackend(ctx)
	if err != nil {
		return nil, err
	}
	opts := []credential.Option{credential.WithCookieMirror(jar, base)}
	if backend != nil {
		opts = append(opts, credential.WithBackend(backend))
	}
	a.store = credential.NewStore(opts...)
	if err := a.store.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	navigators := []api.Navigator{api.NavigatorFunc(func() {
		fmt.Fprintln(os.Stderr, "Session expired. Run `dashctl login` to sign in again.")
	})}
	clientOpts := []api.Option{api.WithHTTPClient(hc)}
	if cfg.BusEnabled {
		if err := a.connectBus(); err != nil {
			return nil, err
		}
		pub := bus.NewPublisher(a.nc, cfg.Profile)
		navigators = append(navigators, pub)
		clientOpts = append(clientOpts, api.WithStreamMirror(pub))
	}
	clientOpts = append(clientOpts, api.WithNavigator(api.NavigatorFunc(func() {
		for _, n := range navigators {
			n.RedirectToLogin()
		}
	})))

	refresher := refresh.New(hc, cfg.BaseURL, a.store)
	a.api = api.New(cfg.BaseURL, a.store, refresher, clientOpts...)
	a.auth = auth.NewService(a.api, a.store)
	a.chat = chat.New(a.api)
	a.bridge = oauth.NewBridge(cfg.CallbackOrigin(), oauth.PrintOpener{W: os.Stdout},
		oauth.WithTimeout(cfg.OAuthTimeout),
		oauth.WithPollInterval(cfg.OAuthPollInterval),
	)
	a.reauth = oauth.NewReauthorizer(a.api, a.bridge)
	ok = true
	return a, nil
}

func (a *app) tokenBackend(ctx context.Context) (credential.Backend, error) {
	switch a.cfg.TokenBackend {
	case config.BackendFile:
		return credential.NewFileBackend(a.cfg.TokenFile), nil
	case config.BackendPostgres:
		pool, err := storage.NewPool(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := storage.RunMigrations(ctx, pool); err != nil {
			return nil, err
		}
		writer := storage.NewBatchWriter(pool, a.cfg.WriterBufferSize, a.cfg.WriterBatchSize, a.cfg.WriterFlushMs)
		a.closers = append(a.closers, writer.Shutdown)
		return storage.NewCredentialBackend(pool, writer, a.cfg.Profile), nil
	}
	return nil, nil
}

func (a *app) connectBus() error {
	if a.cfg.NATSURL != "" {
		nc, err := bus.Dial(a.cfg.NATSURL)
		if err != nil {
			return err
		}
		a.nc = nc
		a.closers = append(a.closers, func() { _ = nc.Drain() })
		return nil
	}

	srv, err := bus.NewServer()
	if err != nil {
		return fmt.Errorf("start embedded NATS: %w", err)
	}
	a.closers = append(a.closers, srv.Shutdown)
	nc, err := srv.Connect()
	if err != nil {
		return fmt.Errorf("connect to embedded NATS: %w", err)
	}
	a.nc = nc
	a.closers = append(a.closers, func() { _ = nc.Drain() })
	log.Debug().Msg("embedded NATS started")
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
