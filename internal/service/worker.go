// Package service implements the repository sync engine. It resolves
// the workspaces to operate on, flattens their repository listings into
// sync targets and applies the configured local-state policy to each
// target, one repository at a time. Every failure is handled at the
// per-repository boundary: one bad repository must not abort a
// multi-hundred-repository run.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"

	"github.com/bucketcloner/bucketcloner/internal/config"
	"github.com/bucketcloner/bucketcloner/internal/creds"
	"github.com/bucketcloner/bucketcloner/internal/gitsync"
	"github.com/bucketcloner/bucketcloner/internal/logging"
	"github.com/bucketcloner/bucketcloner/internal/metrics"
	"github.com/bucketcloner/bucketcloner/internal/progress"
	"github.com/bucketcloner/bucketcloner/pkg/bitbucket"
)

// Action is the outcome of processing a single repository.
type Action int

const (
	ActionCloned Action = iota
	ActionPulled
	ActionSkipped
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionCloned:
		return "cloned"
	case ActionPulled:
		return "pulled"
	case ActionSkipped:
		return "skipped"
	}
	return "failed"
}

// Summary accumulates the outcomes of a run.
type Summary struct {
	Cloned  int
	Pulled  int
	Skipped int
	Failed  int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d cloned, %d pulled, %d skipped, %d failed", s.Cloned, s.Pulled, s.Skipped, s.Failed)
}

// SyncWorker drives a full sync run. Workspaces, repositories and API
// pages are processed strictly sequentially; there is no shared mutable
// state and no parallelism to configure.
type SyncWorker struct {
	cfg     *config.Root
	client  *bitbucket.Client
	log     *logging.Logger
	bar     *progress.Bar
	include []glob.Glob
	exclude []glob.Glob
	summary Summary
}

func NewSyncWorker(cfg *config.Root, client *bitbucket.Client, logger *logging.Logger) *SyncWorker {
	return &SyncWorker{cfg: cfg, client: client, log: logger}
}

func (w *SyncWorker) WithProgress(bar *progress.Bar) *SyncWorker {
	w.bar = bar
	return w
}

// Run executes the sync over all resolved workspaces and returns the
// accumulated summary. The only error it returns is a malformed
// include/exclude pattern; everything that happens per repository or
// per page is reported and counted instead.
func (w *SyncWorker) Run(ctx context.Context) (Summary, error) {
	if err := w.compileFilters(); err != nil {
		return w.summary, err
	}

	for _, workspace := range w.client.ResolveWorkspaces(ctx, w.cfg.Workspaces) {
		w.syncWorkspace(ctx, workspace)
	}

	w.bar.Finish()
	return w.summary, nil
}

// target is a repository that passed all listing filters: its
// authenticated clone URL and the local path it syncs to.
type target struct {
	name      string // workspace/repository, for reporting
	workspace string
	cloneURL  string
	path      string
}

func (w *SyncWorker) syncWorkspace(ctx context.Context, workspace string) {
	for repo := range w.client.Repositories(ctx, workspace, w.cfg.Project) {
		t, ok := w.target(workspace, repo)
		if !ok {
			w.bar.Add(1)
			continue
		}

		startTime := time.Now()
		action, err := w.syncRepository(ctx, t)
		if err != nil {
			w.log.Warnf("Failed to sync %s: %v.", t.name, err)
			metrics.RepoSyncFailed.WithLabelValues(t.workspace).Inc()
			w.summary.Failed++
		} else {
			metrics.RepoSyncCount.WithLabelValues(t.workspace, action.String()).Inc()
			metrics.RepoSyncDuration.WithLabelValues(t.workspace, action.String()).Observe(time.Since(startTime).Seconds())
			switch action {
			case ActionCloned:
				w.summary.Cloned++
			case ActionPulled:
				w.summary.Pulled++
			case ActionSkipped:
				w.summary.Skipped++
			}
		}
		metrics.LastRepoSyncEnd.WithLabelValues(t.workspace).SetToCurrentTime()
		w.bar.Add(1)
	}
}

// target maps a repository API entry to a sync target. Entries that
// cannot be synced (wrong SCM, missing transport, invalid URL,
// filtered name) are reported, counted as skips and dropped; none of
// these are error states.
func (w *SyncWorker) target(workspace string, repo bitbucket.Repository) (target, bool) {
	name := workspace + "/" + repo.Name

	if repo.SCM != "git" {
		w.log.Infof("Skipping %s because it is not a git but a %s repository.", name, repo.SCM)
		w.skip("scm")
		return target{}, false
	}

	if !w.match(repo.Name) {
		w.log.Debugf("Skipping %s because it does not match the repository filters.", name)
		w.skip("filter")
		return target{}, false
	}

	linkName := w.cfg.Auth.LinkName()
	rawURL, ok := repo.CloneLink(linkName)
	if !ok {
		w.log.Infof("Skipping %s because there is no %s clone link.", name, linkName)
		w.skip("clone_link")
		return target{}, false
	}

	cloneURL, err := creds.Compose(rawURL, w.cfg.Token, w.cfg.Auth)
	if err != nil {
		w.log.Infof("Skipping %s because of invalid URL.", name)
		w.skip("invalid_url")
		return target{}, false
	}

	path := filepath.Join(w.cfg.BaseFolder, workspace)
	if w.cfg.ProjectFolders && repo.Project != nil {
		path = filepath.Join(path, repo.Project.Key)
	}
	path = filepath.Join(path, repo.Name)

	return target{name: name, workspace: workspace, cloneURL: cloneURL, path: path}, true
}

func (w *SyncWorker) skip(reason string) {
	metrics.ReposSkipped.WithLabelValues(reason).Inc()
	w.summary.Skipped++
}

// syncRepository applies exactly one of four actions to the target,
// based on local path state and policy: clone fresh, report skip, pull,
// or delete and reclone. A directory is never overwritten without an
// explicit skip or a verified deletion first.
func (w *SyncWorker) syncRepository(ctx context.Context, t target) (Action, error) {
	synchronizer := gitsync.New(t.path, t.cloneURL, w.cfg.Auth).
		WithFingerprints(w.cfg.SSHFingerprints)

	if _, err := os.Stat(t.path); err == nil {
		switch {
		case w.cfg.SkipExisting:
			w.log.Infof("Skipping %s because it already exists.", t.name)
			return ActionSkipped, nil

		case w.cfg.Refresh:
			w.log.Infof("Pulling changes for %s.", t.name)
			if err := synchronizer.Pull(ctx); err != nil {
				return ActionFailed, err
			}
			return ActionPulled, nil
		}

		w.log.Infof("Deleting %s because it already exists.", t.name)
		if err := os.RemoveAll(t.path); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return ActionFailed, fmt.Errorf("delete %s: permission denied: %w", t.path, err)
			}
			return ActionFailed, fmt.Errorf("delete %s: %w", t.path, err)
		}
		if _, err := os.Stat(t.path); err == nil {
			return ActionFailed, fmt.Errorf("delete %s: path still exists", t.path)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ActionFailed, err
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return ActionFailed, err
	}

	w.log.Infof("Cloning %s into %s.", t.name, t.path)
	if err := synchronizer.Clone(ctx); err != nil {
		return ActionFailed, err
	}
	return ActionCloned, nil
}

func (w *SyncWorker) compileFilters() error {
	var err error
	if w.include, err = compileGlobs(w.cfg.Include); err != nil {
		return fmt.Errorf("invalid include pattern: %w", err)
	}
	if w.exclude, err = compileGlobs(w.cfg.Exclude); err != nil {
		return fmt.Errorf("invalid exclude pattern: %w", err)
	}
	return nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// match applies the include globs (any must match, if given) and then
// the exclude globs (none may match) to a repository name.
func (w *SyncWorker) match(name string) bool {
	if len(w.include) > 0 {
		matched := false
		for _, g := range w.include {
			if g.Match(name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, g := range w.exclude {
		if g.Match(name) {
			return false
		}
	}
	return true
}
