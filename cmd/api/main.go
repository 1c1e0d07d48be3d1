package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reqdesk/api/internal/app"
	"reqdesk/api/internal/auth"
	"reqdesk/api/internal/config"
	"reqdesk/api/internal/mirror"
	"reqdesk/api/internal/pipeline"
	"reqdesk/api/internal/review"
	"reqdesk/api/internal/search"
	"reqdesk/api/internal/session"
	"reqdesk/api/internal/workcopy"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := mirror.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("mirror database connection failed: %v", err)
	}
	defer db.Close()
	mirrorStore := mirror.NewStore(db)

	if strings.TrimSpace(cfg.RepoURL) != "" {
		if err := workcopy.CloneIfMissing(cfg.RepoDir, cfg.RepoURL); err != nil {
			log.Fatalf("clone working copy: %v", err)
		}
	}
	manager, err := workcopy.Open(cfg.RepoDir, cfg.DefaultBranch, workcopy.Author{
		Name:  cfg.GitAuthorName,
		Email: cfg.GitAuthorEmail,
	})
	if err != nil {
		log.Fatalf("open working copy: %v", err)
	}

	reviews := review.New(cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubToken)
	orchestrator := pipeline.New(manager, reviews, cfg.DefaultBranch)

	sqlSearch := search.NewSQLSearch(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, sqlSearch)
	searchService.ReindexAllFromMirror(ctx)

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		sessions = redisStore
	} else {
		log.Printf("Using in-memory refresh token storage")
		sessions = session.NewMemoryStore()
	}
	defer sessions.Close()

	var oauth *auth.GitHubOAuth
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		oauth = auth.NewGitHubOAuth(cfg.GitHubClientID, cfg.GitHubClientSecret)
	} else {
		log.Printf("WARNING: GitHub OAuth not configured, login is disabled")
	}

	service := app.NewService(app.ServiceOptions{
		Mirror:     mirrorStore,
		Pipeline:   orchestrator,
		Search:     searchService,
		Sessions:   sessions,
		OAuth:      oauth,
		JWTSecret:  []byte(cfg.JWTSecret),
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Reqdesk API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	// An in-flight working-copy operation finishes before the process exits.
	manager.Close()
}
