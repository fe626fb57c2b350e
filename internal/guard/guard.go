// Package guard implements the scoped unlock/commit block that CoWGuard and
// UnlockGuard both are (§4.4, §4.5). The design note in §9 observes that the
// three recurring forms (AnnexUnlock, CoWGuard, UnlockGuard) differ only in
// three orthogonal flags, so this package models a single Guard
// parameterised by Options rather than three separate types.
package guard

import (
	"context"

	"github.com/sharebox/sharebox/internal/classifier"
	"github.com/sharebox/sharebox/internal/objectstore"
	"github.com/sharebox/sharebox/internal/openfiles"
)

// Options selects which of the guard's entry/exit behaviours apply.
type Options struct {
	// Unlock, on entry: replace the store link with a writable copy if one
	// isn't already installed for this handle.
	Unlock bool
	// Commit, on exit: add+commit the path to the store, unless ignored.
	Commit bool
	// NeedsFDSubstitution records the new fd into the OpenFileTable,
	// transitioning it to WritableCopy. CoWGuard sets this; UnlockGuard,
	// which has no file handle at all, does not.
	NeedsFDSubstitution bool
	// GateOnUnlock restricts the exit commit to only fire when this
	// invocation actually performed the unlock (UnlockGuard's semantics).
	// CoWGuard's release always commits when Commit is set, regardless of
	// whether this call did the unlocking.
	GateOnUnlock bool
}

// CoWOptions builds the Options CoWGuard uses for a given VFS callback.
func CoWOptions(unlock, commit bool) Options {
	return Options{Unlock: unlock, Commit: commit, NeedsFDSubstitution: true}
}

// UnlockOptions builds the Options UnlockGuard uses for chmod/chown/truncate.
func UnlockOptions() Options {
	return Options{Unlock: true, Commit: true, GateOnUnlock: true}
}

// OpenFunc opens a writable fd in place of path, used when the guard must
// substitute the read-only view for a writable one.
type OpenFunc func(path string) (uintptr, error)

// Guard composes the classifier, store driver, and (for CoWGuard use) the
// OpenFileTable to run scoped enter/body/exit blocks. A Guard built with a
// nil table behaves as UnlockGuard: it never touches per-handle state.
type Guard struct {
	classifier *classifier.Classifier
	store      objectstore.Driver
	table      *openfiles.Table
}

// New builds a Guard. Pass a nil table for UnlockGuard-style usage.
func New(c *classifier.Classifier, store objectstore.Driver, table *openfiles.Table) *Guard {
	return &Guard{classifier: c, store: store, table: table}
}

// Do runs body inside the scoped guard block for (path, fh): it enters
// (unlocking/substituting per opts), always runs exit even if body panics
// or returns an error (satisfying "exit must run on every path, including
// exceptional ones" from §4.4), and returns body's error if body failed,
// else the exit error.
//
// currentFD is the fd the caller already has open for this handle (the
// ReadOnlyView fd, or 0 if none applies, e.g. UnlockGuard callers that
// operate on the path directly rather than through a file descriptor).
// open is consulted only when opts.Unlock requires installing a new fd.
func (g *Guard) Do(ctx context.Context, path string, fh uint64, currentFD uintptr, opts Options, open OpenFunc, body func(fd uintptr) error) (err error) {
	fd, didUnlock, enterErr := g.enter(ctx, path, fh, currentFD, opts, open)
	if enterErr != nil {
		return enterErr
	}

	defer func() {
		exitErr := g.exit(ctx, path, fh, opts, didUnlock)
		if err == nil {
			err = exitErr
		}
	}()

	return body(fd)
}

func (g *Guard) enter(ctx context.Context, path string, fh uint64, currentFD uintptr, opts Options, open OpenFunc) (uintptr, bool, error) {
	if g.table != nil {
		if of, ok := g.table.Get(fh); ok && of.Mode == openfiles.WritableCopy {
			return of.FD, false, nil
		}
	}

	if !opts.Unlock {
		return currentFD, false, nil
	}

	kind, err := g.classifier.Classify(ctx, path)
	if err != nil {
		return currentFD, false, err
	}

	unlocked := false
	if kind == classifier.Annexed {
		if err := g.store.Unlock(ctx, path); err != nil {
			return currentFD, false, err
		}
		unlocked = true
	}

	if open == nil {
		return currentFD, unlocked, nil
	}

	newFD, err := open(path)
	if err != nil {
		return currentFD, false, err
	}

	if opts.NeedsFDSubstitution && g.table != nil {
		g.table.Upgrade(fh, newFD)
	}

	return newFD, unlocked, nil
}

func (g *Guard) exit(ctx context.Context, path string, fh uint64, opts Options, didUnlock bool) error {
	if !opts.Commit {
		return nil
	}
	if opts.GateOnUnlock && !didUnlock {
		return nil
	}

	kind, err := g.classifier.Classify(ctx, path)
	if err != nil {
		return err
	}
	if kind == classifier.Control || kind == classifier.Ignored {
		return nil
	}

	if opts.NeedsFDSubstitution && g.table != nil {
		if of, ok := g.table.Get(fh); ok && of.Mode == openfiles.WritableCopy {
			g.table.Remove(fh)
		}
	}

	if err := g.store.Add(ctx, path); err != nil {
		return err
	}
	return g.store.Commit(ctx, "changed "+path)
}
