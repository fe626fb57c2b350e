// Package classifier decides, for a path relative to a mount's backing
// root, which of the four inode views (§3) applies: control file, ignored,
// annexed link, or tracked regular. It is pure with respect to the
// filesystem — it issues lstat/readlink calls and a store query but never
// mutates anything — and tolerates paths that no longer exist, since rename
// and unlink classify both sides of a move.
package classifier

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/sharebox/sharebox/internal/objectstore"
)

// Kind is the tagged variant a path classifies into.
type Kind int

const (
	// Control is the single virtual control-file path.
	Control Kind = iota
	// Ignored is a path that exists but is not subject to versioning.
	Ignored
	// Annexed is a symlink whose target embeds the object-store marker.
	Annexed
	// TrackedRegular is anything else: a real file or directory.
	TrackedRegular
)

func (k Kind) String() string {
	switch k {
	case Control:
		return "control"
	case Ignored:
		return "ignored"
	case Annexed:
		return "annexed"
	case TrackedRegular:
		return "tracked-regular"
	default:
		return "unknown"
	}
}

// ControlPath is the well-known path of the virtual control file, relative
// to the mount root.
const ControlPath = ".command"

// objectMarker is the substring that identifies a symlink target as
// pointing into the object store's content-addressed object directory.
const objectMarker = "/annex/objects/"

// metadataPrefixes are backing-root-relative directory prefixes that are
// always ignored: the store's own bookkeeping state.
var metadataPrefixes = []string{".git/", ".git-annex/"}

// Classifier decides the Kind of a relative path against a given backing
// root, consulting the store driver's tracked-file listing when local
// checks are inconclusive.
type Classifier struct {
	root  string
	store objectstore.Driver

	// mu guards tracked/trackedSet. Classify is reached both from call
	// sites that hold the mount-wide lock (rename, unlink, guard commits)
	// and from ones that don't (Getattr, Access, Readdir's attr fill), so
	// the cache needs synchronization of its own rather than relying on a
	// lock its callers may or may not be holding.
	mu sync.Mutex
	// tracked caches the most recent ListTracked result. Invalidate is
	// called after the VFS operations that add or remove paths (create,
	// rename, symlink, unlink) and after each clean sync merge.
	tracked    map[string]struct{}
	trackedSet bool
}

// New builds a Classifier rooted at root, querying store on demand.
func New(root string, store objectstore.Driver) *Classifier {
	return &Classifier{root: root, store: store}
}

// Invalidate drops the cached tracked-file set, forcing the next Classify
// call to re-query the store.
func (c *Classifier) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackedSet = false
	c.tracked = nil
}

// Classify returns the Kind for a path relative to the backing root. It
// never returns an error for a nonexistent path; absence itself is part of
// the classification logic (an absent annexed target is still Annexed).
func (c *Classifier) Classify(ctx context.Context, relPath string) (Kind, error) {
	clean := strings.TrimPrefix(relPath, "/")

	if clean == ControlPath {
		return Control, nil
	}

	for _, prefix := range metadataPrefixes {
		if strings.HasPrefix(clean, prefix) || clean == strings.TrimSuffix(prefix, "/") {
			return Ignored, nil
		}
	}

	tracked, err := c.isTracked(ctx, clean)
	if err != nil {
		return TrackedRegular, err
	}
	if !tracked {
		return Ignored, nil
	}

	fullPath := c.join(clean)
	if info, lstatErr := os.Lstat(fullPath); lstatErr == nil && info.Mode()&os.ModeSymlink != 0 {
		if target, err := os.Readlink(fullPath); err == nil && strings.Contains(target, objectMarker) {
			return Annexed, nil
		}
	}

	return TrackedRegular, nil
}

func (c *Classifier) isTracked(ctx context.Context, clean string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.trackedSet {
		paths, err := c.store.ListTracked(ctx)
		if err != nil {
			return false, err
		}
		set := make(map[string]struct{}, len(paths))
		for _, p := range paths {
			set[p] = struct{}{}
		}
		c.tracked = set
		c.trackedSet = true
	}
	_, ok := c.tracked[clean]
	return ok, nil
}

func (c *Classifier) join(relPath string) string {
	if relPath == "" {
		return c.root
	}
	return c.root + "/" + relPath
}
