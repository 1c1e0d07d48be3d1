// Package pipeline drives a posted requirement payload through the
// edit-to-review sequence: validate, encode, branch+commit+push on the shared
// working copy, then open (or reconcile with) a pull request.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"reqdesk/api/internal/reqdoc"
	"reqdesk/api/internal/review"
)

// WorkingCopy is the slice of the working-copy manager the pipeline needs.
// CommitAndPush holds the serial slot across both steps.
type WorkingCopy interface {
	CommitAndPush(branch, pathInRepo, content, message string) error
}

type ReviewOpener interface {
	OpenReview(ctx context.Context, head, title, body, base string) (review.Review, error)
}

// Result is the response contract shared by create and update submissions.
type Result struct {
	Branch         string `json:"branch"`
	PullRequestURL string `json:"pullRequestUrl"`
	FilePath       string `json:"filePath"`
}

type Orchestrator struct {
	workingCopy WorkingCopy
	reviews     ReviewOpener
	baseBranch  string
	now         func() time.Time
}

func New(workingCopy WorkingCopy, reviews ReviewOpener, baseBranch string) *Orchestrator {
	return &Orchestrator{
		workingCopy: workingCopy,
		reviews:     reviews,
		baseBranch:  baseBranch,
		now:         time.Now,
	}
}

// SubmitCreate proposes a new requirement.
func (o *Orchestrator) SubmitCreate(ctx context.Context, req reqdoc.Requirement) (Result, error) {
	return o.submit(ctx, req, false)
}

// SubmitUpdate proposes changes to an existing requirement. Ids are immutable
// across updates: the path id wins over whatever the payload carries.
func (o *Orchestrator) SubmitUpdate(ctx context.Context, id string, req reqdoc.Requirement) (Result, error) {
	req.ID = id
	return o.submit(ctx, req, true)
}

func (o *Orchestrator) submit(ctx context.Context, req reqdoc.Requirement, update bool) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	// The epoch suffix guarantees a fresh branch per submission; no two
	// submissions ever race on the same branch name.
	epoch := o.now().UnixMilli()
	var branch, message, title, prBody string
	if update {
		branch = fmt.Sprintf("fix/req-%s-%d", req.ID, epoch)
		message = fmt.Sprintf("fix(req): Update requirement %s - %s", req.ID, req.Name)
		title = fmt.Sprintf("Update Requirement: %s - %s", req.ID, req.Name)
		prBody = fmt.Sprintf("This Pull Request proposes updates to requirement: **%s - %s**. Please review.", req.ID, req.Name)
	} else {
		branch = fmt.Sprintf("feat/req-%s-%d", req.ID, epoch)
		message = fmt.Sprintf("feat(req): Create requirement %s - %s", req.ID, req.Name)
		title = fmt.Sprintf("Draft Requirement: %s - %s", req.ID, req.Name)
		prBody = fmt.Sprintf("This Pull Request proposes the new requirement: **%s - %s**. Please review.", req.ID, req.Name)
	}
	filePath := reqdoc.FilePath(req.Type, req.ID)

	content, err := reqdoc.Encode(req)
	if err != nil {
		return Result{}, err
	}

	// A failure here leaves at most a local commit on a branch nobody else
	// will ever use; no rollback is attempted.
	if err := o.workingCopy.CommitAndPush(branch, filePath, content, message); err != nil {
		return Result{}, err
	}

	// The review phase runs outside the serial slot: the platform is
	// idempotent under the head-branch key. If it fails the branch is already
	// pushed, and an identical resubmission converges via reconciliation.
	opened, err := o.reviews.OpenReview(ctx, branch, title, prBody, o.baseBranch)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Branch:         branch,
		PullRequestURL: opened.URL,
		FilePath:       filePath,
	}, nil
}
