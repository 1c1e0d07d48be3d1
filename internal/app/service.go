// Package app wires the domain services behind the HTTP surface.
package app

import (
	"context"
	"net/http"
	"time"

	"reqdesk/api/internal/auth"
	"reqdesk/api/internal/mirror"
	"reqdesk/api/internal/pipeline"
	"reqdesk/api/internal/reqdoc"
	"reqdesk/api/internal/search"
	"reqdesk/api/internal/session"
	"reqdesk/api/internal/util"
)

// Service is the application facade behind the HTTP handlers.
type Service struct {
	mirror     *mirror.Store
	pipeline   *pipeline.Orchestrator
	search     *search.Service
	sessions   session.Store
	oauth      *auth.GitHubOAuth
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type ServiceOptions struct {
	Mirror     *mirror.Store
	Pipeline   *pipeline.Orchestrator
	Search     *search.Service
	Sessions   session.Store
	OAuth      *auth.GitHubOAuth // nil disables the login flow
	JWTSecret  []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewService(opts ServiceOptions) *Service {
	return &Service{
		mirror:     opts.Mirror,
		pipeline:   opts.Pipeline,
		search:     opts.Search,
		sessions:   opts.Sessions,
		oauth:      opts.OAuth,
		jwtSecret:  opts.JWTSecret,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.mirror.Ping(ctx)
}

func (s *Service) ListRequirements(ctx context.Context) ([]mirror.Row, error) {
	return s.mirror.List(ctx)
}

func (s *Service) GetRequirement(ctx context.Context, id string) (mirror.Row, error) {
	return s.mirror.Get(ctx, id)
}

func (s *Service) Graph(ctx context.Context) (mirror.Graph, error) {
	return s.mirror.Graph(ctx)
}

func (s *Service) CreateRequirement(ctx context.Context, req reqdoc.Requirement) (pipeline.Result, error) {
	return s.pipeline.SubmitCreate(ctx, req)
}

func (s *Service) UpdateRequirement(ctx context.Context, id string, req reqdoc.Requirement) (pipeline.Result, error) {
	return s.pipeline.SubmitUpdate(ctx, id, req)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Session is the token pair handed to a browser after login or refresh.
type Session struct {
	Token        string
	RefreshToken string
	Principal    auth.Principal
}

// HandleOAuthCallback turns a GitHub authorization code into a token pair.
func (s *Service) HandleOAuthCallback(ctx context.Context, code string) (Session, error) {
	if s.oauth == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is not configured", nil)
	}
	principal, err := s.oauth.Authenticate(ctx, code)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "AUTH_FAILED", "GitHub authentication failed", nil)
	}
	return s.issueSession(ctx, principal)
}

// Refresh rotates a refresh token: the presented token is revoked and a fresh
// pair is issued against the same principal.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	principal, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, principal)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) PrincipalFromToken(token string) (auth.Principal, error) {
	return auth.ParseToken(s.jwtSecret, token)
}

func (s *Service) issueSession(ctx context.Context, principal auth.Principal) (Session, error) {
	access, err := auth.IssueToken(s.jwtSecret, principal, util.NewID("jti"), s.accessTTL)
	if err != nil {
		return Session{}, err
	}
	refresh := util.NewID("rt")
	expiresAt := time.Now().Add(s.refreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), principal, expiresAt); err != nil {
		return Session{}, err
	}
	return Session{Token: access, RefreshToken: refresh, Principal: principal}, nil
}
