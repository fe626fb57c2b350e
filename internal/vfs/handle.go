package vfs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/sharebox/sharebox/internal/classifier"
	"github.com/sharebox/sharebox/internal/guard"
)

// Handle is the per-open fs.FileHandle, keyed into the Core's OpenFileTable
// by fh. It carries no fd of its own; the active fd always comes from the
// table, since CoWGuard may substitute a writable copy mid-open (§3).
type Handle struct {
	core    *Core
	relPath string
	fh      uint64
}

var (
	_ fs.FileReader   = (*Handle)(nil)
	_ fs.FileWriter   = (*Handle)(nil)
	_ fs.FileFlusher  = (*Handle)(nil)
	_ fs.FileFsyncer  = (*Handle)(nil)
	_ fs.FileReleaser = (*Handle)(nil)
)

func (h *Handle) currentFD() uintptr {
	if of, ok := h.core.Table.Get(h.fh); ok {
		return of.FD
	}
	return 0
}

func (h *Handle) openWritable(path string) (uintptr, error) {
	fd, err := syscall.Open(h.core.full(path), syscall.O_RDWR, 0)
	return uintptr(fd), err
}

// Read passes through CoWGuard with no unlock and no commit (§4.6).
func (h *Handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	var errno syscall.Errno
	defer func() { h.core.recordOp("read", start, errno) }()

	h.core.mu.Lock()
	defer h.core.mu.Unlock()

	n := 0
	err := h.core.CoW.Do(ctx, h.relPath, h.fh, h.currentFD(), guard.CoWOptions(false, false), nil, func(fd uintptr) error {
		read, readErr := syscall.Pread(int(fd), dest, off)
		n = read
		return readErr
	})
	if err != nil {
		errno = errnoFromErr(err)
		return nil, errno
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// Write interprets the control path's payload as control messages;
// otherwise it passes through CoWGuard with unlock=true, commit=false
// (§4.6, §4.7).
func (h *Handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	start := time.Now()
	var errno syscall.Errno
	defer func() { h.core.recordOp("write", start, errno) }()

	if h.isControl() {
		n := h.core.Control.Handle(ctx, data)
		return uint32(n), 0
	}

	h.core.mu.Lock()
	defer h.core.mu.Unlock()

	written := 0
	err := h.core.CoW.Do(ctx, h.relPath, h.fh, h.currentFD(), guard.CoWOptions(true, false), h.openWritable, func(fd uintptr) error {
		w, writeErr := syscall.Pwrite(int(fd), data, off)
		written = w
		if writeErr == nil {
			h.core.Table.MarkDirty(h.fh)
		}
		return writeErr
	})
	if err != nil {
		errno = errnoFromErr(err)
		return 0, errno
	}
	return uint32(written), 0
}

func (h *Handle) isControl() bool { return h.relPath == classifier.ControlPath }

// Flush syncs the writable fd (if any) but defers commit to Release (I3).
func (h *Handle) Flush(ctx context.Context) syscall.Errno {
	if h.isControl() {
		return 0
	}

	h.core.mu.Lock()
	defer h.core.mu.Unlock()

	err := h.core.CoW.Do(ctx, h.relPath, h.fh, h.currentFD(), guard.CoWOptions(false, false), nil, func(fd uintptr) error {
		if fd == 0 {
			return nil
		}
		return syscall.Fsync(int(fd))
	})
	return errnoFromErr(err)
}

// Fsync behaves like Flush: sync without commit (§4.6, I3).
func (h *Handle) Fsync(ctx context.Context, _ uint32) syscall.Errno {
	return h.Flush(ctx)
}

// Release commits the writable copy (if any) back to the store, then
// closes and evicts the handle. Errors during close are logged, never
// surfaced, and the table entry is evicted regardless (§7, I3).
func (h *Handle) Release(ctx context.Context) syscall.Errno {
	start := time.Now()
	defer func() { h.core.recordOp("release", start, 0) }()

	if h.isControl() {
		h.core.mu.Lock()
		fd := h.currentFD()
		h.core.Table.Remove(h.fh)
		h.core.refreshOpenHandlesMetric()
		h.core.mu.Unlock()
		if fd != 0 {
			_ = syscall.Close(int(fd))
		}
		return 0
	}

	h.core.mu.Lock()
	defer h.core.mu.Unlock()

	fd := h.currentFD()
	err := h.core.CoW.Do(ctx, h.relPath, h.fh, fd, guard.CoWOptions(false, true), nil, func(uintptr) error {
		return nil
	})
	if err != nil {
		h.core.logWarn("release commit", h.relPath, err)
	}

	if fd != 0 {
		if closeErr := syscall.Close(int(fd)); closeErr != nil {
			h.core.logWarn("release close", h.relPath, closeErr)
		}
	}
	h.core.Table.Remove(h.fh)
	h.core.refreshOpenHandlesMetric()
	return 0
}
