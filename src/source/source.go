// Package source materializes git repositories used as build contexts.
// Each repository is cloned once per URL and branch for the whole run.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog"

	"github.com/sofmeright/treebuild/src/config"
	"github.com/sofmeright/treebuild/src/logger"
)

// CloneFunc clones url into the empty directory dir.
type CloneFunc func(ctx context.Context, dir, url string) (*git.Repository, error)

// Fetcher clones git sources into temporary directories and checks out
// the requested branch. It is safe for concurrent use.
type Fetcher struct {
	root  string // parent of the clone directories, "" = os temp dir
	clone CloneFunc
	log   zerolog.Logger

	mu       sync.Mutex
	checkout map[string]*checkout
	dirs     []string
}

type checkout struct {
	once sync.Once
	path string
	err  error
}

// NewFetcher returns a Fetcher that clones under root.
func NewFetcher(root string, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		root:     root,
		clone:    plainClone,
		log:      logger.Component(log, "source"),
		checkout: make(map[string]*checkout),
	}
}

func plainClone(ctx context.Context, dir, url string) (*git.Repository, error) {
	return git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url})
}

// Checkout returns the local root of src, cloning it on first use. When
// src.Branch does not exist it is created from src.Fallback.
func (f *Fetcher) Checkout(ctx context.Context, src config.GitSource) (string, error) {
	key := src.URL + "#" + src.Branch

	f.mu.Lock()
	co, ok := f.checkout[key]
	if !ok {
		co = &checkout{}
		f.checkout[key] = co
	}
	f.mu.Unlock()

	co.once.Do(func() {
		co.path, co.err = f.fetch(ctx, src)
	})
	if co.err != nil {
		return "", co.err
	}
	if ok {
		f.log.Debug().Str("url", src.URL).Str("path", co.path).Msg("reusing clone")
	}
	return co.path, nil
}

func (f *Fetcher) fetch(ctx context.Context, src config.GitSource) (string, error) {
	dir, err := os.MkdirTemp(f.root, "treebuild-src-")
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()

	f.log.Info().Str("url", src.URL).Str("path", dir).Msg("cloning")
	repo, err := f.clone(ctx, dir, src.URL)
	if err != nil {
		return "", fmt.Errorf("cloning %s: %w", src.URL, err)
	}
	if src.Branch == "" {
		return dir, nil
	}
	if err := switchBranch(repo, src.Branch, src.Fallback); err != nil {
		return "", fmt.Errorf("%s: %w", src.URL, err)
	}
	return dir, nil
}

// switchBranch checks out branch, creating it from fallback when neither a
// local nor a remote branch of that name exists.
func switchBranch(repo *git.Repository, branch, fallback string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	local := plumbing.NewBranchReferenceName(branch)

	if _, err := repo.Reference(local, true); err == nil {
		return wt.Checkout(&git.CheckoutOptions{Branch: local, Force: true})
	}
	start, err := branchHash(repo, branch)
	if errors.Is(err, plumbing.ErrReferenceNotFound) && fallback != "" {
		start, err = branchHash(repo, fallback)
		if err != nil {
			return fmt.Errorf("branch %q not found and fallback %q: %w", branch, fallback, err)
		}
	}
	if err != nil {
		return fmt.Errorf("branch %q: %w", branch, err)
	}
	return wt.Checkout(&git.CheckoutOptions{Branch: local, Hash: start, Create: true, Force: true})
}

// branchHash resolves a local branch, then the origin branch of that name.
func branchHash(repo *git.Repository, branch string) (plumbing.Hash, error) {
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(branch),
		plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch),
	} {
		ref, err := repo.Reference(name, true)
		if err == nil {
			return ref.Hash(), nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, err
		}
	}
	return plumbing.ZeroHash, plumbing.ErrReferenceNotFound
}

// Close removes every clone.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, d := range f.dirs {
		if err := os.RemoveAll(d); err != nil {
			errs = append(errs, err)
		}
	}
	f.dirs = nil
	f.checkout = make(map[string]*checkout)
	return errors.Join(errs...)
}
