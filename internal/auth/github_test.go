package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func newTestOAuth(t *testing.T) (*GitHubOAuth, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "gho_testtoken",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_testtoken" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"login":      "octocat",
			"name":       "Octo Cat",
			"email":      "octo@example.com",
			"avatar_url": "https://example.com/a.png",
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	oa := NewGitHubOAuth("client-id", "client-secret")
	oa.conf.Endpoint = oauth2.Endpoint{
		AuthURL:  server.URL + "/login/oauth/authorize",
		TokenURL: server.URL + "/login/oauth/access_token",
	}
	oa.apiBase = server.URL + "/"
	return oa, server
}

func TestAuthenticateExchangesCodeForPrincipal(t *testing.T) {
	oa, _ := newTestOAuth(t)

	principal, err := oa.Authenticate(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	want := Principal{
		Login:     "octocat",
		Name:      "Octo Cat",
		Email:     "octo@example.com",
		AvatarURL: "https://example.com/a.png",
	}
	if principal != want {
		t.Fatalf("Authenticate() = %+v, want %+v", principal, want)
	}
}

func TestAuthenticateRejectsBadCode(t *testing.T) {
	oa, _ := newTestOAuth(t)

	if _, err := oa.Authenticate(context.Background(), "bad-code"); err == nil {
		t.Fatal("Authenticate() succeeded with a bad code")
	}
}
