package openfiles

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	table := New()
	table.Insert(1, &OpenFile{Path: "a.txt", Mode: ReadOnlyView, FD: 10})

	of, ok := table.Get(1)
	assert.True(t, ok)
	assert.Equal(t, ReadOnlyView, of.Mode)

	table.Remove(1)
	_, ok = table.Get(1)
	assert.False(t, ok)
}

func TestGetMissingToleratesAbsence(t *testing.T) {
	table := New()
	_, ok := table.Get(99)
	assert.False(t, ok)
}

func TestUpgradeTransitionsOnce(t *testing.T) {
	table := New()
	table.Insert(1, &OpenFile{Path: "a.txt", Mode: ReadOnlyView, FD: 10})

	table.Upgrade(1, 20)
	of, _ := table.Get(1)
	assert.Equal(t, WritableCopy, of.Mode)
	assert.Equal(t, uintptr(20), of.FD)

	table.Upgrade(1, 30)
	of, _ = table.Get(1)
	assert.Equal(t, uintptr(20), of.FD, "second upgrade must be a no-op")
}

func TestUpgradeClosesReplacedFD(t *testing.T) {
	oldR, oldW, err := os.Pipe()
	require.NoError(t, err)
	defer oldW.Close()
	oldFD := oldR.Fd()

	newR, newW, err := os.Pipe()
	require.NoError(t, err)
	defer newR.Close()
	defer newW.Close()

	table := New()
	table.Insert(1, &OpenFile{Path: "a.txt", Mode: ReadOnlyView, FD: oldFD})
	table.Upgrade(1, newR.Fd())

	assert.Equal(t, syscall.EBADF, syscall.Close(int(oldFD)), "Upgrade must close the fd it replaces")
}

func TestMarkDirty(t *testing.T) {
	table := New()
	table.Insert(1, &OpenFile{Path: "a.txt", Mode: WritableCopy, FD: 10})
	table.MarkDirty(1)

	of, _ := table.Get(1)
	assert.True(t, of.Dirty)
}

func TestLen(t *testing.T) {
	table := New()
	assert.Equal(t, 0, table.Len())
	table.Insert(1, &OpenFile{})
	table.Insert(2, &OpenFile{})
	assert.Equal(t, 2, table.Len())
	table.Remove(1)
	assert.Equal(t, 1, table.Len())
}
