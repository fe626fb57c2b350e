// Package openfiles implements the OpenFileTable (§4.3): the mapping from a
// kernel file handle to the fd currently backing it, and whether that fd is
// the original read-only view or an installed writable copy. All access is
// expected to happen under the caller's mount-wide lock (§5); every method
// also takes the table's own mutex, so the table stays consistent for
// callers that do not hold that lock.
package openfiles

import (
	"sync"
	"syscall"
)

// Mode distinguishes the two states an OpenFile can be in (§3).
type Mode int

const (
	// ReadOnlyView is the original fd opened against the store's symlink
	// target (or the control/ignored path), never written through.
	ReadOnlyView Mode = iota
	// WritableCopy is an unlocked, in-place writable copy. Dirty tracks
	// whether any write has landed on it since it was installed.
	WritableCopy
)

// OpenFile is one entry in the table, keyed by kernel file handle.
type OpenFile struct {
	Path  string
	Mode  Mode
	FD    uintptr
	Dirty bool
}

// Table is the fh → OpenFile mapping. The zero value is ready to use.
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*OpenFile
}

// New builds an empty Table.
func New() *Table {
	return &Table{entries: make(map[uint64]*OpenFile)}
}

// Insert registers a freshly opened handle. Callers hold the mount lock.
func (t *Table) Insert(fh uint64, of *OpenFile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = make(map[uint64]*OpenFile)
	}
	t.entries[fh] = of
}

// Get returns the entry for fh, or nil, ok=false if it has no entry — this
// is tolerated rather than an error, supporting fds that were never
// upgraded to a tracked OpenFile (§4.3).
func (t *Table) Get(fh uint64) (*OpenFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.entries[fh]
	return of, ok
}

// Upgrade installs a writable copy for fh, transitioning it from
// ReadOnlyView to WritableCopy. It is a no-op if fh already holds a
// WritableCopy, enforcing the "at most once per open" invariant (§3). The
// fd it replaces is closed here, since nothing else ever references it
// again once the table has moved on to the writable one (§7).
func (t *Table) Upgrade(fh uint64, fd uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.entries[fh]
	if !ok || of.Mode == WritableCopy {
		return
	}
	oldFD := of.FD
	of.FD = fd
	of.Mode = WritableCopy
	if oldFD != 0 {
		_ = syscall.Close(int(oldFD))
	}
}

// MarkDirty records that fh's writable copy has pending unflushed changes.
func (t *Table) MarkDirty(fh uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if of, ok := t.entries[fh]; ok {
		of.Dirty = true
	}
}

// Remove evicts fh's entry, e.g. on release. Safe to call even if absent.
func (t *Table) Remove(fh uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, fh)
}

// Len reports the current number of open handles, for the metrics gauge.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
