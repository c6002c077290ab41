package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/homefix/messenger/internal/api"
	"github.com/homefix/messenger/internal/config"
	"github.com/homefix/messenger/internal/conversation"
	"github.com/homefix/messenger/internal/model"
	"github.com/homefix/messenger/internal/realtime"
	"github.com/homefix/messenger/internal/session"
	"github.com/homefix/messenger/internal/tokenstore"
)

var errNotLoggedIn = errors.New("not logged in; run `messenger login <token>` first")

// app wires the session, REST client and reconciler for one invocation.
type app struct {
	slot    tokenstore.Store
	session *session.Store
	client  *api.Client
}

func newApp(ctx context.Context) (*app, error) {
	slot, err := openSlot(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{slot: slot}
	a.session = session.New(slot, session.Options{
		OnLogout: func() {
			fmt.Fprintf(os.Stderr, "Signed out of the %s session.\n", sessionDomain())
		},
	})
	a.client = api.NewClient(api.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.RequestTimeout,
		SendRate:  cfg.SendRate,
		SendBurst: cfg.SendBurst,
	}, api.WithUnauthorizedHandler(func() {
		a.session.HandleUnauthorized(context.Background())
	}))

	a.session.Restore(ctx)
	return a, nil
}

func (a *app) Close() {
	_ = a.slot.Close()
}

// requireIdentity returns the restored identity or errNotLoggedIn.
func (a *app) requireIdentity() (*model.Identity, error) {
	id := a.session.Identity()
	if id == nil {
		return nil, errNotLoggedIn
	}
	return id, nil
}

func (a *app) reconciler(opts ...conversation.Option) *conversation.Reconciler {
	return conversation.New(a.client, a.session.Credentials, opts...)
}

// channel builds a realtime manager for id whose pushes feed r.
func (a *app) channel(id *model.Identity, r *conversation.Reconciler) (*realtime.Manager, error) {
	url, err := cfg.RealtimeURL()
	if err != nil {
		return nil, err
	}
	m := realtime.New(realtime.Config{
		URL:               url,
		Token:             id.Token,
		UserID:            id.UserID,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DialTimeout:       cfg.RequestTimeout,
		Backoff: realtime.BackoffConfig{
			Initial:    cfg.ReconnectInitial,
			Max:        cfg.ReconnectMax,
			Multiplier: 2,
			Jitter:     0.2,
		},
	})
	m.OnMessage(r.Receive)
	return m, nil
}

func openSlot(c config.Config) (tokenstore.Store, error) {
	switch c.TokenBackend {
	case config.BackendRedis:
		return tokenstore.NewRedis(c.RedisAddr, c.TokenKey, 0)
	case config.BackendMemory:
		return tokenstore.NewMemory(c.TokenKey), nil
	default:
		return tokenstore.NewPebble(c.TokenDir, c.TokenKey)
	}
}

func sessionDomain() string {
	if cfg.TokenKey == config.AdminTokenKey {
		return "admin"
	}
	return "app"
}
