package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/user/mapic/internal/config"
	"github.com/user/mapic/internal/gallery"
	"github.com/user/mapic/internal/identity"
	"github.com/user/mapic/internal/state"
	"github.com/user/mapic/internal/synchronizer"
	"github.com/user/mapic/pkg/imagegen/httpapi"
)

// app wires the collaborators every command needs.
type app struct {
	cfg      *config.Config
	client   *httpapi.Client
	sync     *synchronizer.Synchronizer
	activity *state.ActivityStore
	images   *state.ImageStore
	gallery  *gallery.Gallery
	verifier *identity.Verifier
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	client := httpapi.New(cfg.ImagegenConfig())
	activity := state.NewActivityStore(cfg.DataDir)
	images := state.NewImageStore(cfg.DataDir)

	retry := synchronizer.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.History.FetchAttempts

	s := synchronizer.New(client,
		synchronizer.WithLogger(slog.Default()),
		synchronizer.WithJournal(activity),
		synchronizer.WithMaxConcurrentDeletes(int64(cfg.MaxConcurrentDeletes)),
		synchronizer.WithRetryPolicy(retry),
	)

	return &app{
		cfg:      cfg,
		client:   client,
		sync:     s,
		activity: activity,
		images:   images,
		gallery:  gallery.New(client, images),
		verifier: identity.NewVerifier(cfg.Auth.JWTSecret),
	}, nil
}

// userID resolves the configured user: user_id wins, otherwise the subject
// of api.access_token.
func (a *app) userID() (string, error) {
	if a.cfg.UserID != "" {
		return a.cfg.UserID, nil
	}
	if a.cfg.API.AccessToken != "" {
		uid, err := a.verifier.UserID(a.cfg.API.AccessToken)
		if err != nil {
			return "", fmt.Errorf("resolve user from access token: %w", err)
		}
		return uid, nil
	}
	return "", errors.New("no user configured: set user_id or api.access_token")
}

// connect signs in and waits for the user's history to load.
func (a *app) connect(ctx context.Context) error {
	uid, err := a.userID()
	if err != nil {
		return err
	}
	if err := a.sync.SignIn(ctx, uid); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if err := a.sync.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// close waits briefly for in-flight calls, then stops the synchronizer.
func (a *app) close() {
	if !a.sync.WaitIdle(5 * time.Second) {
		slog.Warn("closing with remote calls still in flight")
	}
	a.sync.Close()
}
