package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ineffable/internal/agent"
	"ineffable/internal/config"
	"ineffable/internal/opencode"
	"ineffable/internal/session"
	"ineffable/internal/store"
	"ineffable/internal/title"
)

// remote is what every backend offers the commands
type remote interface {
	session.Backend
	session.Directory
	title.Fetcher
}

var (
	_ remote = (*agent.Client)(nil)
	_ remote = (*opencode.Backend)(nil)
)

// app is the resolved configuration and backend for one command run
type app struct {
	cfg     *config.Config
	remote  remote
	url     string
	backend string
	color   bool
	server  *opencode.Server
}

// resolveServer picks the endpoint: --server (a URL or a saved name), then
// the configured server, then the saved default.
func resolveServer(cfg *config.Config, flagServer string, backendSet bool) (url, backend string, err error) {
	backend = cfg.Backend

	ref := flagServer
	if ref == "" {
		ref = cfg.Server
	}
	if strings.Contains(ref, "://") {
		return strings.TrimRight(ref, "/"), backend, nil
	}

	repo, err := store.Open()
	if err != nil {
		return "", "", err
	}
	defer repo.Close()

	var srv *store.Server
	if ref != "" {
		srv, err = repo.Get(ref)
	} else {
		srv, err = repo.Default()
	}
	switch {
	case err == nil:
		if !backendSet {
			backend = srv.Backend
		}
		return srv.URL, backend, nil
	case ref == "" && errors.Is(err, store.ErrServerNotFound):
		return "", backend, nil
	default:
		return "", "", err
	}
}

// newApp connects to the selected backend. An opencode server is spawned
// when autostart is on and no endpoint was given.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg := loaded
	url, backend, err := resolveServer(cfg, flags.server, flags.backend != "")
	if err != nil {
		return nil, err
	}

	color, err := renderColor(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, url: url, backend: backend, color: color}

	switch backend {
	case config.BackendOpencode:
		if a.url == "" && cfg.Opencode.Autostart {
			srv, err := opencode.StartServer(ctx, cfg.Opencode.Binary, cfg.Opencode.Port, os.Stderr)
			if err != nil {
				return nil, err
			}
			a.server = srv
			a.url = srv.BaseURL()
		}
		if a.url == "" {
			a.url = cfg.OpencodeURL()
		}
		dir := cfg.Opencode.Directory
		if dir == "" {
			dir, _ = os.Getwd()
		}
		a.remote = opencode.New(opencode.Config{
			BaseURL:    a.url,
			Directory:  dir,
			ProviderID: cfg.Opencode.ProviderID,
			ModelID:    cfg.Opencode.ModelID,
			Timeout:    cfg.RequestTimeout(),
		})

	case config.BackendNative:
		if a.url == "" {
			return nil, errors.New("no server configured: pass --server, set server in the config, or run `ineffable servers add`")
		}
		a.remote = agent.NewClient(a.url, agent.RetryConfig{
			MaxAttempts: cfg.Retry.Attempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		}, cfg.RequestTimeout())

	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	slog.Debug("backend ready", "component", "cli", "backend", backend, "url", a.url)
	return a, nil
}

func (a *app) Close() {
	if a.server != nil {
		a.server.Stop()
	}
}
