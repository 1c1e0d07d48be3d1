package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

// GitHubOAuth exchanges a browser-supplied authorization code for a GitHub
// identity. The application never stores the GitHub access token; it is used
// once to look the user up.
type GitHubOAuth struct {
	conf    *oauth2.Config
	apiBase string // overridden in tests
}

func NewGitHubOAuth(clientID, clientSecret string) *GitHubOAuth {
	return &GitHubOAuth{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     githuboauth.Endpoint,
		},
	}
}

// Authenticate runs the code-for-token exchange and fetches the user record.
func (g *GitHubOAuth) Authenticate(ctx context.Context, code string) (Principal, error) {
	token, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return Principal{}, fmt.Errorf("exchange oauth code: %w", err)
	}

	gh := github.NewClient(nil).WithAuthToken(token.AccessToken)
	if g.apiBase != "" {
		base, err := url.Parse(g.apiBase)
		if err != nil {
			return Principal{}, fmt.Errorf("parse api base: %w", err)
		}
		gh.BaseURL = base
	}

	user, _, err := gh.Users.Get(ctx, "")
	if err != nil {
		return Principal{}, fmt.Errorf("fetch github user: %w", err)
	}
	if user.GetLogin() == "" {
		return Principal{}, fmt.Errorf("github user has no login")
	}
	return Principal{
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		Email:     user.GetEmail(),
		AvatarURL: user.GetAvatarURL(),
	}, nil
}
