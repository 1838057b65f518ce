package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"

	"github.com/soaringjerry/moderator/internal/api"
	"github.com/soaringjerry/moderator/internal/catalog"
	"github.com/soaringjerry/moderator/internal/config"
	"github.com/soaringjerry/moderator/internal/db"
	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/markers"
	"github.com/soaringjerry/moderator/internal/remote"
	"github.com/soaringjerry/moderator/internal/services"
	"github.com/soaringjerry/moderator/internal/store"
)

// app holds the wired components shared by the commands.
type app struct {
	protocol  config.Protocol
	store     *store.FileStore
	loader    *catalog.Loader
	ledger    *db.Ledger
	committer *remote.Committer
	hub       *markers.Hub
	svc       *services.SessionService
	registry  *api.Registry
}

func newApp(ctx context.Context, s settings) (*app, error) {
	protocol, err := config.Load(s.protocolPath)
	if err != nil {
		return nil, err
	}
	fs, err := store.NewFileStore(s.resultsDir)
	if err != nil {
		return nil, err
	}
	a := &app{protocol: protocol, store: fs}

	opts := []remote.Option{remote.WithPaths(protocol.RemotePaths())}
	if s.ledgerPath != "" {
		if a.ledger, err = db.Open(s.ledgerPath, s.migrationsDir); err != nil {
			return nil, err
		}
		opts = append(opts, remote.WithLedger(a.ledger))
	}
	if s.sealPublicKey != "" {
		sealer, err := remote.NewSealer(s.sealPublicKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("remote: sealing records", "recipient", sealer.Fingerprint())
		opts = append(opts, remote.WithSealer(sealer))
	}
	syncer, err := newSyncer(ctx, s.github)
	if err != nil {
		a.Close()
		return nil, err
	}
	if syncer == nil {
		logger.Warn("remote: no GitHub repository configured, records stay local")
	}
	a.committer = remote.NewCommitter(syncer, fs, opts...)

	a.loader = catalog.NewLoader(protocol.CatalogConfig(s.projectRoot), nil)
	a.hub = markers.NewHub(s.allowedOrigin)
	a.svc = services.NewSessionService(fs, a.loader, a.committer, a.hub, protocol.ServiceOptions())
	a.registry = api.NewRegistry(a.svc, a.loader)
	return a, nil
}

func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logger.Warn("ledger: close failed", "error", err)
		}
	}
}

// newSyncer returns nil when no repository is configured. A GitHub App
// installation takes precedence over a static token.
func newSyncer(ctx context.Context, s githubSettings) (remote.Syncer, error) {
	if s.repo == "" {
		return nil, nil
	}
	owner, repo, ok := strings.Cut(s.repo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("github repo %q must be owner/name", s.repo)
	}
	var client *http.Client
	switch {
	case s.appID != 0:
		if s.installationID == 0 || s.appKeyFile == "" {
			return nil, errors.New("github app auth needs installation id and key file")
		}
		// #nosec G304 -- key path is operator configuration.
		pem, err := os.ReadFile(s.appKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read github app key: %w", err)
		}
		ts, err := remote.NewAppTokenSource(s.appID, s.installationID, pem, s.apiURL)
		if err != nil {
			return nil, err
		}
		client = oauth2.NewClient(ctx, ts)
	case s.token != "":
		client = remote.NewTokenClient(ctx, s.token)
	default:
		return nil, errors.New("github repo configured without a token or app credentials")
	}
	g, err := remote.NewGitHubSyncer(client, remote.GitHubConfig{Owner: owner, Repo: repo, Branch: s.branch, BaseURL: s.apiURL})
	if err != nil {
		return nil, err
	}
	return g, nil
}
