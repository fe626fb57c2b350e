package classifier

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	tracked []string
}

func (f *fakeStore) Init(ctx context.Context, hostID string) error           { return nil }
func (f *fakeStore) Unlock(ctx context.Context, path string) error           { return nil }
func (f *fakeStore) Add(ctx context.Context, path string) error              { return nil }
func (f *fakeStore) Commit(ctx context.Context, message string) error        { return nil }
func (f *fakeStore) Remove(ctx context.Context, path string) error           { return nil }
func (f *fakeStore) Rename(ctx context.Context, a, b string) error           { return nil }
func (f *fakeStore) FetchAll(ctx context.Context) error                      { return nil }
func (f *fakeStore) ListRemotes(ctx context.Context) ([]string, error)       { return nil, nil }
func (f *fakeStore) Merge(ctx context.Context, ref string) error             { return nil }
func (f *fakeStore) ResetHard(ctx context.Context) error                     { return nil }
func (f *fakeStore) Clean(ctx context.Context) error                         { return nil }
func (f *fakeStore) Get(ctx context.Context, pathspec string) error          { return nil }
func (f *fakeStore) ListTracked(ctx context.Context) ([]string, error)       { return f.tracked, nil }

func TestClassify_Control(t *testing.T) {
	c := New(t.TempDir(), &fakeStore{})
	kind, err := c.Classify(context.Background(), "/.command")
	require.NoError(t, err)
	assert.Equal(t, Control, kind)
}

func TestClassify_MetadataIsIgnored(t *testing.T) {
	c := New(t.TempDir(), &fakeStore{})
	kind, err := c.Classify(context.Background(), ".git/HEAD")
	require.NoError(t, err)
	assert.Equal(t, Ignored, kind)
}

func TestClassify_UntrackedIsIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.log"), []byte("x"), 0644))

	c := New(root, &fakeStore{tracked: []string{}})
	kind, err := c.Classify(context.Background(), "scratch.log")
	require.NoError(t, err)
	assert.Equal(t, Ignored, kind)
}

func TestClassify_AnnexedLink(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink(".git/annex/objects/ab/cd/SHA256-s3--abc/SHA256-s3--abc", filepath.Join(root, "b.txt")))

	c := New(root, &fakeStore{tracked: []string{"b.txt"}})
	kind, err := c.Classify(context.Background(), "b.txt")
	require.NoError(t, err)
	assert.Equal(t, Annexed, kind)
}

func TestClassify_TrackedRegular(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0644))

	c := New(root, &fakeStore{tracked: []string{"a.txt"}})
	kind, err := c.Classify(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, TrackedRegular, kind)
}

func TestClassify_TolerantOfMissingPath(t *testing.T) {
	root := t.TempDir()
	c := New(root, &fakeStore{tracked: []string{"gone.txt"}})
	kind, err := c.Classify(context.Background(), "gone.txt")
	require.NoError(t, err)
	assert.Equal(t, TrackedRegular, kind)
}

func TestClassify_CachesTrackedListUntilInvalidated(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{tracked: []string{"a.txt"}}
	c := New(root, store)

	_, err := c.Classify(context.Background(), "a.txt")
	require.NoError(t, err)

	store.tracked = []string{}
	kind, err := c.Classify(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, TrackedRegular, kind, "cached tracked set should still report a.txt as tracked")

	c.Invalidate()
	kind, err = c.Classify(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, Ignored, kind)
}

// TestClassify_ConcurrentAccessDoesNotRaceOnTrackedCache exercises the
// unsynchronized-callers case from §5: Getattr/Access/Readdir call Classify
// without the mount-wide lock held, concurrently with Rename/Unlink and
// guard commits which do hold it. Classify and Invalidate must not race on
// the tracked-set cache regardless of what the caller happens to hold.
func TestClassify_ConcurrentAccessDoesNotRaceOnTrackedCache(t *testing.T) {
	root := t.TempDir()
	c := New(root, &fakeStore{tracked: []string{"a.txt", "b.txt"}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Classify(context.Background(), "a.txt")
		}()
		go func() {
			defer wg.Done()
			c.Invalidate()
		}()
	}
	wg.Wait()
}
