// Package review opens pull requests on the hosting platform. One open
// review per head branch: a create that hits the platform's "already exists"
// rejection is reconciled by returning the extant open review.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

var (
	ErrReviewAPI     = errors.New("review platform request failed")
	ErrReviewMissing = errors.New("no open review found for branch")
)

// Review identifies an open pull request.
type Review struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
}

type Client struct {
	owner string
	repo  string
	token string

	once sync.Once
	gh   *github.Client
}

// New configures a client authenticated with a personal-access token. The
// underlying HTTP client is constructed lazily on first use.
func New(owner, repo, token string) *Client {
	return &Client{owner: owner, repo: repo, token: token}
}

// NewWithClient wires an explicit GitHub client; used by tests.
func NewWithClient(owner, repo string, gh *github.Client) *Client {
	c := &Client{owner: owner, repo: repo}
	c.once.Do(func() { c.gh = gh })
	return c
}

func (c *Client) client() *github.Client {
	c.once.Do(func() {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token})
		c.gh = github.NewClient(oauth2.NewClient(context.Background(), source))
	})
	return c.gh
}

// OpenReview creates a pull request from head into base. When the platform
// reports that a pull request already exists for the head, the first open
// review with that head/base is returned instead. Network errors are not
// retried here; that call is the orchestrator's to make.
func (c *Client) OpenReview(ctx context.Context, head, title, body, base string) (Review, error) {
	gh := c.client()
	pr, _, err := gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title:               github.String(title),
		Head:                github.String(head),
		Base:                github.String(base),
		Body:                github.String(body),
		MaintainerCanModify: github.Bool(true),
	})
	if err == nil {
		return Review{URL: pr.GetHTMLURL(), Number: pr.GetNumber()}, nil
	}
	if !c.isAlreadyExists(err, head) {
		return Review{}, fmt.Errorf("%w: create pull request for %s: %v", ErrReviewAPI, head, err)
	}

	open, _, err := gh.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
		Head:  c.owner + ":" + head,
		Base:  base,
		State: "open",
	})
	if err != nil {
		return Review{}, fmt.Errorf("%w: list open pull requests for %s: %v", ErrReviewAPI, head, err)
	}
	if len(open) == 0 {
		return Review{}, fmt.Errorf("%w: %s", ErrReviewMissing, head)
	}
	return Review{URL: open[0].GetHTMLURL(), Number: open[0].GetNumber()}, nil
}

func (c *Client) isAlreadyExists(err error, head string) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	sentinel := fmt.Sprintf("A pull request already exists for %s:%s", c.owner, head)
	for _, item := range ghErr.Errors {
		if strings.Contains(item.Message, sentinel) {
			return true
		}
	}
	return false
}
