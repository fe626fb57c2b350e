// Package conflict documents the contract between the sync engine and the
// external, interactive conflict-resolution dialog (§9 design note). The
// dialog itself — an ownership-per-path chooser — is out of scope; this
// package specifies only the interface the core consumes, plus two trivial
// non-interactive policies useful for automated or headless sync runs.
package conflict

import "context"

// Side is which copy of a conflicted path's content should win.
type Side int

const (
	// Local keeps the working tree's own version.
	Local Side = iota
	// Remote takes the peer's version.
	Remote
)

func (s Side) String() string {
	if s == Remote {
		return "remote"
	}
	return "local"
}

// Resolver produces, for each path left in conflict after a failed merge
// attempt, a choice of Local or Remote. The sync engine consumes this as
// input to a sequence of file-overwrite and commit operations; how those
// overwrites are performed is not this package's concern.
type Resolver interface {
	Resolve(ctx context.Context, paths []string) (map[string]Side, error)
}

// AllLocal resolves every conflicted path in favour of the local copy.
// Useful for unattended sync runs where a human isn't available to choose.
type AllLocal struct{}

// Resolve implements Resolver.
func (AllLocal) Resolve(_ context.Context, paths []string) (map[string]Side, error) {
	choices := make(map[string]Side, len(paths))
	for _, p := range paths {
		choices[p] = Local
	}
	return choices, nil
}

// AllRemote resolves every conflicted path in favour of the peer's copy.
type AllRemote struct{}

// Resolve implements Resolver.
func (AllRemote) Resolve(_ context.Context, paths []string) (map[string]Side, error) {
	choices := make(map[string]Side, len(paths))
	for _, p := range paths {
		choices[p] = Remote
	}
	return choices, nil
}
