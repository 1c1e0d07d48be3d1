// Package workcopy owns the single local clone of the corpus repository. All
// mutating operations go through a FIFO serial queue drained by one worker,
// so at most one git operation touches the working tree at a time.
package workcopy

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const remoteName = "origin"

var ErrVCS = errors.New("working copy operation failed")

type Author struct {
	Name  string
	Email string
}

type Manager struct {
	repo          *git.Repository
	root          string
	defaultBranch string
	author        Author
	jobs          chan job
	stopped       chan struct{}
}

type job struct {
	run  func() error
	done chan error
}

// Open attaches to an existing clone at path and starts the queue worker.
func Open(path, defaultBranch string, author Author) (*Manager, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open working copy at %s: %w", path, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	m := &Manager{
		repo:          repo,
		root:          worktree.Filesystem.Root(),
		defaultBranch: defaultBranch,
		author:        author,
		jobs:          make(chan job),
		stopped:       make(chan struct{}),
	}
	go m.loop()
	return m, nil
}

// CloneIfMissing clones url into path unless a repository is already there.
func CloneIfMissing(path, url string) error {
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat working copy: %w", err)
	}
	if _, err := git.PlainClone(path, false, &git.CloneOptions{URL: url}); err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}

func (m *Manager) loop() {
	for j := range m.jobs {
		j.done <- j.run()
	}
	close(m.stopped)
}

// enqueue submits one operation and blocks until the worker has run it.
// Arrival order is preserved by the unbuffered channel.
func (m *Manager) enqueue(run func() error) error {
	j := job{run: run, done: make(chan error, 1)}
	m.jobs <- j
	return <-j.done
}

// Close drains the queue and waits for an in-flight operation to finish.
func (m *Manager) Close() {
	close(m.jobs)
	<-m.stopped
}

// EnsureBranch leaves the working tree checked out on the named branch,
// creating it from the current tip when it exists neither locally nor on the
// remote.
func (m *Manager) EnsureBranch(name string) error {
	return m.enqueue(func() error { return m.ensureBranch(name) })
}

// Commit ensures the branch, writes content to pathInRepo (creating parent
// directories, overwriting any previous version), stages it and commits.
// Git's refusal to create an empty commit is treated as success.
func (m *Manager) Commit(branch, pathInRepo, content, message string) error {
	return m.enqueue(func() error { return m.commit(branch, pathInRepo, content, message) })
}

// CommitAndPush runs Commit and Push inside a single queued operation, so no
// other submission can slip its own commit between the two steps.
func (m *Manager) CommitAndPush(branch, pathInRepo, content, message string) error {
	return m.enqueue(func() error {
		if err := m.commit(branch, pathInRepo, content, message); err != nil {
			return err
		}
		return m.push(branch)
	})
}

// Push pushes the branch to origin, recording upstream tracking on first push.
func (m *Manager) Push(branch string) error {
	return m.enqueue(func() error { return m.push(branch) })
}

// SwitchToMainAndPull returns to the default branch and fast-forwards it.
func (m *Manager) SwitchToMainAndPull() error {
	return m.enqueue(func() error {
		worktree, err := m.repo.Worktree()
		if err != nil {
			return vcsErr("open worktree", m.defaultBranch, err)
		}
		branchRef := plumbing.NewBranchReferenceName(m.defaultBranch)
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
			return vcsErr("checkout default branch", m.defaultBranch, err)
		}
		if err := m.pull(worktree, branchRef); err != nil {
			return vcsErr("pull default branch", m.defaultBranch, err)
		}
		return nil
	})
}

func (m *Manager) ensureBranch(name string) error {
	// A stale remote view only costs us a fast-forward; branch names carry an
	// epoch suffix, so creation never races remote state.
	if err := m.fetch(); err != nil {
		log.Printf("workcopy: fetch before branch %s: %v", name, err)
	}

	worktree, err := m.repo.Worktree()
	if err != nil {
		return vcsErr("open worktree", name, err)
	}
	branchRef := plumbing.NewBranchReferenceName(name)

	if _, err := m.repo.Reference(branchRef, true); err == nil {
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
			return vcsErr("checkout branch", name, err)
		}
		if err := m.pull(worktree, branchRef); err != nil {
			log.Printf("workcopy: pull existing branch %s: %v", name, err)
		}
		return nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return vcsErr("resolve branch", name, err)
	}

	if remoteRef, err := m.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, name), true); err == nil {
		if err := m.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, remoteRef.Hash())); err != nil {
			return vcsErr("create branch from remote", name, err)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
			return vcsErr("checkout remote branch", name, err)
		}
		return nil
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
		if errors.Is(err, git.ErrBranchExists) || strings.Contains(err.Error(), "already exists") {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
				return vcsErr("checkout racing branch", name, err)
			}
			return nil
		}
		return vcsErr("create branch", name, err)
	}
	return nil
}

func (m *Manager) commit(branch, pathInRepo, content, message string) error {
	if err := m.ensureBranch(branch); err != nil {
		return err
	}

	fullPath := filepath.Join(m.root, filepath.FromSlash(pathInRepo))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return vcsErr("create directories for "+pathInRepo, branch, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return vcsErr("write "+pathInRepo, branch, err)
	}

	worktree, err := m.repo.Worktree()
	if err != nil {
		return vcsErr("open worktree", branch, err)
	}
	if _, err := worktree.Add(pathInRepo); err != nil {
		return vcsErr("stage "+pathInRepo, branch, err)
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  m.author.Name,
			Email: m.author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			log.Printf("workcopy: nothing to commit for %s on %s", pathInRepo, branch)
			return nil
		}
		return vcsErr("commit "+pathInRepo, branch, err)
	}
	return nil
}

func (m *Manager) push(branch string) error {
	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := m.repo.Push(&git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return vcsErr("push", branch, err)
	}

	// Equivalent of --set-upstream on first push; tracking config is
	// convenience, not correctness.
	err = m.repo.CreateBranch(&config.Branch{
		Name:   branch,
		Remote: remoteName,
		Merge:  plumbing.NewBranchReferenceName(branch),
	})
	if err != nil && !errors.Is(err, git.ErrBranchExists) {
		log.Printf("workcopy: record upstream for %s: %v", branch, err)
	}
	return nil
}

func (m *Manager) fetch() error {
	err := m.repo.Fetch(&git.FetchOptions{RemoteName: remoteName})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

func (m *Manager) pull(worktree *git.Worktree, branchRef plumbing.ReferenceName) error {
	err := worktree.Pull(&git.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: branchRef,
		SingleBranch:  true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

func vcsErr(op, branch string, err error) error {
	return fmt.Errorf("%w: %s (branch %s): %v", ErrVCS, op, branch, err)
}
