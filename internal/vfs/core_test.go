package vfs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sharebox/sharebox/internal/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	tracked   []string
	unlocked  []string
	added     []string
	commits   []string
	removed   []string
	renamed   [][2]string
}

func (f *fakeStore) Init(ctx context.Context, hostID string) error { return nil }
func (f *fakeStore) Unlock(ctx context.Context, path string) error {
	f.unlocked = append(f.unlocked, path)
	return nil
}
func (f *fakeStore) Add(ctx context.Context, path string) error {
	f.added = append(f.added, path)
	return nil
}
func (f *fakeStore) Commit(ctx context.Context, message string) error {
	f.commits = append(f.commits, message)
	return nil
}
func (f *fakeStore) Remove(ctx context.Context, path string) error {
	f.removed = append(f.removed, path)
	return nil
}
func (f *fakeStore) Rename(ctx context.Context, a, b string) error {
	f.renamed = append(f.renamed, [2]string{a, b})
	return nil
}
func (f *fakeStore) FetchAll(ctx context.Context) error                { return nil }
func (f *fakeStore) ListRemotes(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeStore) Merge(ctx context.Context, ref string) error       { return nil }
func (f *fakeStore) ResetHard(ctx context.Context) error               { return nil }
func (f *fakeStore) Clean(ctx context.Context) error                   { return nil }
func (f *fakeStore) Get(ctx context.Context, pathspec string) error    { return nil }
func (f *fakeStore) ListTracked(ctx context.Context) ([]string, error) { return f.tracked, nil }

func newTestCore(t *testing.T, tracked []string) (*Core, string) {
	t.Helper()
	root := t.TempDir()
	store := &fakeStore{tracked: tracked}
	var mu sync.Mutex
	core := NewCore(root, store, control.New(nil, store, nil), nil, nil, &mu)
	return core, root
}

func TestGetattr_ControlFile(t *testing.T) {
	core, _ := newTestCore(t, nil)
	node := &Node{core: core, relPath: ".command"}

	var out fuse.AttrOut
	errno := node.Getattr(context.Background(), nil, &out)

	require.Equal(t, 0, int(errno))
	assert.EqualValues(t, fuse.S_IFREG|0200, out.Mode)
	assert.EqualValues(t, 0, out.Size)
}

func TestGetattr_AnnexedPresentFakesWritableRegularMode(t *testing.T) {
	core, root := newTestCore(t, []string{"b.txt"})
	// The symlink target must embed the object marker for Annexed
	// classification to trigger.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "annex", "objects"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "annex", "objects", "target"), []byte("Xbc"), 0444))
	require.NoError(t, os.Symlink(filepath.Join(root, ".git", "annex", "objects", "target"), filepath.Join(root, "b.txt")))

	node := &Node{core: core, relPath: "b.txt"}
	var out fuse.AttrOut
	errno := node.Getattr(context.Background(), nil, &out)

	require.Equal(t, 0, int(errno))
	assert.NotZero(t, out.Mode&fuse.S_IFREG)
	assert.NotZero(t, out.Mode&0200, "annexed present file must report writable mode")
	assert.EqualValues(t, 3, out.Size)
}

func TestReaddir_RootIncludesControlFile(t *testing.T) {
	core, root := newTestCore(t, []string{"a.txt"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0644))

	node := &Node{core: core, relPath: ""}
	stream, errno := node.Readdir(context.Background())
	require.Equal(t, 0, int(errno))

	names := map[string]bool{}
	for stream.HasNext() {
		entry, errno := stream.Next()
		require.Equal(t, 0, int(errno))
		names[entry.Name] = true
	}
	assert.True(t, names[".command"])
	assert.True(t, names["a.txt"])
}

func TestRename_NoOpWhenSameName(t *testing.T) {
	core, root := newTestCore(t, []string{"a.txt"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0644))

	node := &Node{core: core, relPath: ""}
	errno := node.Rename(context.Background(), "a.txt", node, "a.txt", 0)

	require.Equal(t, 0, int(errno))
	store := core.Store.(*fakeStore)
	assert.Empty(t, store.commits, "rename(x, x) must yield no commit")
}

func TestRename_IgnoredToTrackedCommitsMoveMessage(t *testing.T) {
	core, root := newTestCore(t, []string{"c.txt"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.log"), []byte("x"), 0644))

	store := core.Store.(*fakeStore)
	node := &Node{core: core, relPath: ""}

	errno := node.Rename(context.Background(), "c.log", node, "c.txt", 0)
	require.Equal(t, 0, int(errno))

	require.Len(t, store.commits, 1)
	assert.Contains(t, store.commits[0], "moved an ignored file to c.txt")
}

func TestUnlink_IgnoredPathProducesNoCommit(t *testing.T) {
	core, root := newTestCore(t, []string{})
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.log"), []byte("x"), 0644))

	node := &Node{core: core, relPath: ""}
	errno := node.Unlink(context.Background(), "c.log")
	require.Equal(t, 0, int(errno))

	store := core.Store.(*fakeStore)
	assert.Empty(t, store.commits)
}
