package guard

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sharebox/sharebox/internal/classifier"
	"github.com/sharebox/sharebox/internal/openfiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	tracked    []string
	unlocked   []string
	added      []string
	commits    []string
	unlockErr  error
}

func (f *fakeStore) Init(ctx context.Context, hostID string) error { return nil }
func (f *fakeStore) Unlock(ctx context.Context, path string) error {
	f.unlocked = append(f.unlocked, path)
	return f.unlockErr
}
func (f *fakeStore) Add(ctx context.Context, path string) error {
	f.added = append(f.added, path)
	return nil
}
func (f *fakeStore) Commit(ctx context.Context, message string) error {
	f.commits = append(f.commits, message)
	return nil
}
func (f *fakeStore) Remove(ctx context.Context, path string) error     { return nil }
func (f *fakeStore) Rename(ctx context.Context, a, b string) error     { return nil }
func (f *fakeStore) FetchAll(ctx context.Context) error                { return nil }
func (f *fakeStore) ListRemotes(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeStore) Merge(ctx context.Context, ref string) error       { return nil }
func (f *fakeStore) ResetHard(ctx context.Context) error               { return nil }
func (f *fakeStore) Clean(ctx context.Context) error                   { return nil }
func (f *fakeStore) Get(ctx context.Context, pathspec string) error    { return nil }
func (f *fakeStore) ListTracked(ctx context.Context) ([]string, error) { return f.tracked, nil }

func TestGuard_ReadDoesNotUnlockOrCommit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink(".git/annex/objects/x/x", filepath.Join(root, "b.txt")))
	store := &fakeStore{tracked: []string{"b.txt"}}
	g := New(classifier.New(root, store), store, openfiles.New())

	called := false
	err := g.Do(context.Background(), "b.txt", 1, 5, CoWOptions(false, false), nil, func(fd uintptr) error {
		called = true
		assert.EqualValues(t, 5, fd)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, store.unlocked)
	assert.Empty(t, store.commits)
}

func TestGuard_WriteUnlocksAnnexedAndUpgradesTable(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink(".git/annex/objects/x/x", filepath.Join(root, "b.txt")))
	store := &fakeStore{tracked: []string{"b.txt"}}
	table := openfiles.New()
	table.Insert(1, &openfiles.OpenFile{Path: "b.txt", Mode: openfiles.ReadOnlyView, FD: 5})
	g := New(classifier.New(root, store), store, table)

	opened := false
	err := g.Do(context.Background(), "b.txt", 1, 5, CoWOptions(true, false), func(path string) (uintptr, error) {
		opened = true
		return 42, nil
	}, func(fd uintptr) error {
		assert.EqualValues(t, 42, fd)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, []string{"b.txt"}, store.unlocked)

	of, ok := table.Get(1)
	require.True(t, ok)
	assert.Equal(t, openfiles.WritableCopy, of.Mode)
	assert.EqualValues(t, 42, of.FD)
}

func TestGuard_ReleaseCommitsAndEvicts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("Xbc"), 0644))
	store := &fakeStore{tracked: []string{"b.txt"}}
	table := openfiles.New()
	table.Insert(1, &openfiles.OpenFile{Path: "b.txt", Mode: openfiles.WritableCopy, FD: 42})
	g := New(classifier.New(root, store), store, table)

	err := g.Do(context.Background(), "b.txt", 1, 42, CoWOptions(false, true), nil, func(fd uintptr) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, store.added)
	assert.Equal(t, []string{"changed b.txt"}, store.commits)

	_, ok := table.Get(1)
	assert.False(t, ok, "writable fd entry should be evicted on release")
}

func TestGuard_ExitRunsEvenWhenBodyErrors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("data"), 0644))
	store := &fakeStore{tracked: []string{"b.txt"}}
	g := New(classifier.New(root, store), store, openfiles.New())

	boom := assert.AnError
	err := g.Do(context.Background(), "b.txt", 1, 42, CoWOptions(false, true), nil, func(fd uintptr) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"changed b.txt"}, store.commits, "exit must still commit despite the body error")
}

func TestGuard_IgnoredPathNeverCommits(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.log"), []byte("x"), 0644))
	store := &fakeStore{tracked: []string{}}
	g := New(classifier.New(root, store), store, openfiles.New())

	err := g.Do(context.Background(), "scratch.log", 1, 42, CoWOptions(false, true), nil, func(fd uintptr) error {
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, store.commits)
}

func TestGuard_UnlockGuardGatesCommitOnUnlock(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("data"), 0644))
	store := &fakeStore{tracked: []string{"a.txt"}}
	g := New(classifier.New(root, store), store, nil)

	err := g.Do(context.Background(), "a.txt", 0, 0, UnlockOptions(), nil, func(fd uintptr) error {
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, store.unlocked, "a.txt is tracked-regular, not annexed, so no unlock happens")
	assert.Empty(t, store.commits, "UnlockGuard must not commit when it did not unlock")
}

func TestGuard_UnlockGuardCommitsWhenAnnexed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink(".git/annex/objects/x/x", filepath.Join(root, "b.txt")))
	store := &fakeStore{tracked: []string{"b.txt"}}
	g := New(classifier.New(root, store), store, nil)

	err := g.Do(context.Background(), "b.txt", 0, 0, UnlockOptions(), nil, func(fd uintptr) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, store.unlocked)
	assert.Equal(t, []string{"changed b.txt"}, store.commits)
}
