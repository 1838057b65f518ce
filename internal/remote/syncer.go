// Package remote mirrors committed records to a GitHub repository.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
)

// Syncer writes one file to the remote backend, creating or replacing it.
type Syncer interface {
	Put(ctx context.Context, path string, content []byte, message string) error
}

type GitHubConfig struct {
	Owner   string
	Repo    string
	Branch  string
	BaseURL string
}

// GitHubSyncer uses the repository contents API. Each Put is a single
// attempt; failures are returned to the caller.
type GitHubSyncer struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

func NewGitHubSyncer(httpClient *http.Client, cfg GitHubConfig) (*GitHubSyncer, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHubSyncer{client: client, owner: cfg.Owner, repo: cfg.Repo, branch: cfg.Branch}, nil
}

// Put creates path when absent and updates it by SHA otherwise.
func (g *GitHubSyncer) Put(ctx context.Context, path string, content []byte, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
	}
	if g.branch != "" {
		opts.Branch = github.String(g.branch)
	}
	existing, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
		&github.RepositoryContentGetOptions{Ref: g.branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = github.String(existing.GetSHA())
		if _, _, err := g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, path, opts); err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
		return nil
	case isNotFound(resp, err):
		if _, _, err := g.client.Repositories.CreateFile(ctx, g.owner, g.repo, path, opts); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup %s: %w", path, err)
	}
	return fmt.Errorf("lookup %s: path is a directory", path)
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}
