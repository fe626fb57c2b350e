// Package sync implements the SyncEngine (§4.8): periodic or on-demand peer
// pull, per-remote merge attempts, conflict fallback to a clean tree, and
// user notification. Grounded on the teacher's internal/distributed
// ClusterManager for the background-goroutine/stopCh lifecycle shape, and
// on original_source/sharebox.py's synchronize()/mergetool.py for the
// fetch-then-merge-each-remote-then-reset-on-conflict sequence itself.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/sharebox/sharebox/internal/notify"
	"github.com/sharebox/sharebox/internal/objectstore"
	"github.com/sharebox/sharebox/internal/telemetry"
)

// DefaultBranch is the branch name merges are attempted against on each
// remote, e.g. "origin/master".
const DefaultBranch = "master"

// Engine runs the peer-sync protocol of §4.8.
type Engine struct {
	store    objectstore.Driver
	notifier *notify.Notifier
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics

	// mu is the mount-wide rwlock (§5): the caller must supply the exact
	// same lock VFSCore serialises its mutating operations with, since the
	// entire sync routine has to run with exclusive access to the store.
	mu stdsync.Locker

	getAll        bool
	defaultBranch string

	// onMergeSuccess is invoked after every successful per-remote merge,
	// e.g. to invalidate the classifier's cached tracked-file set.
	onMergeSuccess func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithGetAll enables eagerly fetching object contents after a merge.
func WithGetAll(getAll bool) Option {
	return func(e *Engine) { e.getAll = getAll }
}

// WithDefaultBranch overrides the branch name merged against each remote.
func WithDefaultBranch(branch string) Option {
	return func(e *Engine) { e.defaultBranch = branch }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOnMergeSuccess registers a callback run after each clean merge.
func WithOnMergeSuccess(fn func()) Option {
	return func(e *Engine) { e.onMergeSuccess = fn }
}

// New builds an Engine sharing mu with the VFS mount lock.
func New(store objectstore.Driver, notifier *notify.Notifier, mu stdsync.Locker, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		notifier:      notifier,
		mu:            mu,
		defaultBranch: DefaultBranch,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one sync pass: fetch from every remote, attempt a merge
// against each, and on failure reset to a clean tree and notify. manualMerge
// distinguishes a user-invoked `merge` control command from a periodic or
// `sync`-triggered run, only for the wording of the notification.
func (e *Engine) Run(ctx context.Context, manualMerge bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.FetchAll(ctx); err != nil {
		e.record("error")
		return err
	}

	remotes, err := e.store.ListRemotes(ctx)
	if err != nil {
		e.record("error")
		return err
	}

	conflicted := false
	for _, remote := range remotes {
		ref := remote + "/" + e.defaultBranch
		if mergeErr := e.store.Merge(ctx, ref); mergeErr == nil {
			if e.getAll {
				if err := e.store.Get(ctx, "."); err != nil && e.logger != nil {
					e.logger.Warn("post-merge get-all failed", map[string]interface{}{"remote": remote, "error": err.Error()})
				}
			}
			if err := e.store.Commit(ctx, fmt.Sprintf("merged with %s", remote)); err != nil && e.logger != nil {
				e.logger.Warn("post-merge commit failed", map[string]interface{}{"remote": remote, "error": err.Error()})
			}
			if e.onMergeSuccess != nil {
				e.onMergeSuccess()
			}
			continue
		}

		conflicted = true
		if err := e.store.ResetHard(ctx); err != nil && e.logger != nil {
			e.logger.Warn("reset after failed merge failed", map[string]interface{}{"remote": remote, "error": err.Error()})
		}
		if err := e.store.Clean(ctx); err != nil && e.logger != nil {
			e.logger.Warn("clean after failed merge failed", map[string]interface{}{"remote": remote, "error": err.Error()})
		}

		if e.notifier != nil {
			if manualMerge {
				e.notifier.Notify(ctx, "manual merge invoked")
			} else {
				e.notifier.Notify(ctx, fmt.Sprintf("manual merge required: %s", remote))
			}
		}
	}

	outcome := "merged"
	if conflicted {
		outcome = "conflict"
	}
	e.record(outcome)
	return nil
}

func (e *Engine) record(outcome string) {
	if e.metrics != nil {
		e.metrics.RecordSyncRun(outcome)
	}
}

// RunPeriodic runs Run every interval until ctx is canceled. Errors are
// logged, never fatal to the loop, matching the teacher's background
// monitor goroutines that survive individual iteration failures.
func (e *Engine) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Run(ctx, false); err != nil && e.logger != nil {
				e.logger.Warn("periodic sync failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
