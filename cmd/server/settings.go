package main

import (
	"time"

	"github.com/soaringjerry/moderator/internal/utils"
)

type githubSettings struct {
	repo           string // owner/name
	branch         string
	apiURL         string
	token          string
	appID          int64
	installationID int64
	appKeyFile     string
}

type settings struct {
	addr             string
	resultsDir       string
	protocolPath     string
	projectRoot      string
	ledgerPath       string
	migrationsDir    string
	staticDir        string
	allowedOrigin    string
	sealPublicKey    string
	researcherSecret string
	metricsEnabled   bool
	shutdownTimeout  time.Duration
	github           githubSettings
}

func settingsFromEnv() settings {
	return settings{
		addr:             utils.SafeEnv("MODERATOR_ADDR", ":8080"),
		resultsDir:       utils.SafeEnv("MODERATOR_RESULTS_DIR", "results"),
		protocolPath:     utils.SafeEnv("MODERATOR_PROTOCOL", ""),
		projectRoot:      utils.SafeEnv("MODERATOR_PROJECT_ROOT", ""),
		ledgerPath:       utils.SafeEnv("MODERATOR_LEDGER_PATH", ""),
		migrationsDir:    utils.SafeEnv("MODERATOR_MIGRATIONS_DIR", ""),
		staticDir:        utils.SafeEnv("MODERATOR_STATIC_DIR", ""),
		allowedOrigin:    utils.SafeEnv("MODERATOR_ALLOWED_ORIGIN", ""),
		sealPublicKey:    utils.SafeEnv("MODERATOR_SEAL_PUBLIC_KEY", ""),
		researcherSecret: utils.SafeEnv("MODERATOR_RESEARCHER_SECRET", ""),
		metricsEnabled:   utils.EnvBool("MODERATOR_METRICS", true),
		shutdownTimeout:  utils.EnvDuration("MODERATOR_SHUTDOWN_TIMEOUT", 15*time.Second),
		github: githubSettings{
			repo:           utils.SafeEnv("MODERATOR_GITHUB_REPO", ""),
			branch:         utils.SafeEnv("MODERATOR_GITHUB_BRANCH", "main"),
			apiURL:         utils.SafeEnv("MODERATOR_GITHUB_API_URL", ""),
			token:          utils.SafeEnv("MODERATOR_GITHUB_TOKEN", ""),
			appID:          int64(utils.EnvInt("MODERATOR_GITHUB_APP_ID", 0)),
			installationID: int64(utils.EnvInt("MODERATOR_GITHUB_INSTALLATION_ID", 0)),
			appKeyFile:     utils.SafeEnv("MODERATOR_GITHUB_APP_KEY_FILE", ""),
		},
	}
}
