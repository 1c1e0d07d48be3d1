package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DatabasePath  string
	RepoDir       string
	RepoURL       string
	DefaultBranch string
	CORSOrigin    string
	// GitHub hosting platform
	GitHubOwner        string
	GitHubRepo         string
	GitHubToken        string
	GitHubClientID     string
	GitHubClientSecret string
	// Application tokens
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Commit authorship fallback when the principal carries no name
	GitAuthorName  string
	GitAuthorEmail string
	// Optional backends - empty disables them
	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":"+getenv("PORT", "3000")),
		DatabasePath:  getenv("DATABASE_PATH", "./docs_build/requirements.sqlite"),
		RepoDir:       getenv("REQDESK_REPO_DIR", "./data/corpus"),
		RepoURL:       getenv("REQDESK_REPO_URL", ""),
		DefaultBranch: getenv("REQDESK_DEFAULT_BRANCH", "main"),
		CORSOrigin:    getenv("REQDESK_CORS_ORIGIN", "*"),

		GitHubOwner:        getenv("GITHUB_OWNER", ""),
		GitHubRepo:         getenv("GITHUB_REPO", ""),
		GitHubToken:        getenv("GITHUB_TOKEN_PAT", ""),
		GitHubClientID:     getenv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getenv("GITHUB_CLIENT_SECRET", ""),

		JWTSecret:  getenv("REQDESK_JWT_SECRET", "reqdesk-dev-secret"),
		AccessTTL:  time.Duration(getenvInt("REQDESK_ACCESS_TTL_SECONDS", 3600)) * time.Second,
		RefreshTTL: time.Duration(getenvInt("REQDESK_REFRESH_TTL_SECONDS", 2592000)) * time.Second,

		GitAuthorName:  getenv("REQDESK_GIT_AUTHOR", "Reqdesk"),
		GitAuthorEmail: getenv("REQDESK_GIT_EMAIL", "reqdesk@localhost"),

		RedisURL:       getenv("REDIS_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
