package vfs

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/sharebox/sharebox/internal/classifier"
	"github.com/sharebox/sharebox/internal/guard"
	"github.com/sharebox/sharebox/internal/openfiles"
)

func openFileEntry(path string, fd uintptr) *openfiles.OpenFile {
	return &openfiles.OpenFile{Path: path, Mode: openfiles.ReadOnlyView, FD: fd}
}

// Node is a single inode, lazily classified against the backing directory.
// It serves as both directory and file node: which operations apply falls
// out of the underlying path's actual kind, discovered by lstat rather than
// tracked up front.
type Node struct {
	fs.Inode
	core    *Core
	relPath string
}

var (
	_ fs.NodeLookuper   = (*Node)(nil)
	_ fs.NodeGetattrer  = (*Node)(nil)
	_ fs.NodeReaddirer  = (*Node)(nil)
	_ fs.NodeAccesser   = (*Node)(nil)
	_ fs.NodeOpener     = (*Node)(nil)
	_ fs.NodeCreater    = (*Node)(nil)
	_ fs.NodeSetattrer  = (*Node)(nil)
	_ fs.NodeRenamer    = (*Node)(nil)
	_ fs.NodeSymlinker  = (*Node)(nil)
	_ fs.NodeUnlinker   = (*Node)(nil)
	_ fs.NodeMkdirer    = (*Node)(nil)
	_ fs.NodeRmdirer    = (*Node)(nil)
	_ fs.NodeReadlinker = (*Node)(nil)
	_ fs.NodeStatfser   = (*Node)(nil)
)

func (n *Node) isControl() bool { return n.relPath == classifier.ControlPath }

// Lookup implements the getattr-adjacent half of §4.6's classification:
// the control file has no backing entry, so it is synthesised here rather
// than lstat'd.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childRel := join(n.relPath, name)

	if n.relPath == "" && name == classifier.ControlPath {
		controlAttr(&out.Attr)
		child := &Node{core: n.core, relPath: childRel}
		return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}

	info, err := os.Lstat(n.core.full(childRel))
	if err != nil {
		return nil, errnoFromErr(err)
	}

	n.core.fillAttr(ctx, childRel, info, &out.Attr)
	mode := toFuseMode(info) &^ 0777

	child := &Node{core: n.core, relPath: childRel}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode}), 0
}

// Getattr implements §4.6's getattr rules.
func (n *Node) Getattr(ctx context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if n.isControl() {
		controlAttr(&out.Attr)
		return 0
	}

	info, err := os.Lstat(n.core.full(n.relPath))
	if err != nil {
		return errnoFromErr(err)
	}
	n.core.fillAttr(ctx, n.relPath, info, &out.Attr)
	return 0
}

// Readdir lists the backing directory plus, at the root only, the control
// file.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := os.ReadDir(n.core.full(n.relPath))
	if err != nil {
		return nil, errnoFromErr(err)
	}

	list := make([]fuse.DirEntry, 0, len(entries)+1)
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.IsDir() {
			mode = fuse.S_IFDIR
		} else if e.Type()&os.ModeSymlink != 0 {
			mode = fuse.S_IFLNK
		}
		list = append(list, fuse.DirEntry{Name: e.Name(), Mode: mode})
	}
	if n.relPath == "" {
		list = append(list, fuse.DirEntry{Name: classifier.ControlPath, Mode: fuse.S_IFREG})
	}

	return fs.NewListDirStream(list), 0
}

// Access implements §4.6: the control path rejects read access; a missing
// annexed target denies access; everything else defers to the host.
func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	if n.isControl() {
		if mask&fuse.R_OK != 0 {
			return syscall.EACCES
		}
		return 0
	}

	kind, err := n.core.Classifier.Classify(ctx, n.relPath)
	if err == nil && kind == classifier.Annexed {
		if _, statErr := os.Stat(n.core.full(n.relPath)); statErr != nil {
			return syscall.EACCES
		}
	}

	if err := syscall.Access(n.core.full(n.relPath), mask); err != nil {
		return err.(syscall.Errno)
	}
	return 0
}

// Open implements §4.6: the control path opens /dev/null; a missing
// annexed target is fetched before opening read-only; a present annexed
// target opens read-only; everything else opens with the caller's flags.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	start := time.Now()
	var errno syscall.Errno
	defer func() { n.core.recordOp("open", start, errno) }()

	if n.isControl() {
		fd, err := syscall.Open(os.DevNull, int(flags), 0)
		if err != nil {
			errno = errnoFromErr(err)
			return nil, 0, errno
		}
		return n.registerHandle(n.relPath, uintptr(fd)), 0, 0
	}

	full := n.core.full(n.relPath)
	kind, err := n.core.Classifier.Classify(ctx, n.relPath)
	if err != nil {
		errno = syscall.EIO
		return nil, 0, errno
	}

	if kind == classifier.Annexed {
		if _, statErr := os.Stat(full); statErr != nil {
			n.core.mu.Lock()
			getErr := n.core.Store.Get(ctx, n.relPath)
			n.core.mu.Unlock()
			if getErr != nil {
				n.core.logWarn("get", n.relPath, getErr)
			}
			if _, statErr2 := os.Stat(full); statErr2 != nil {
				errno = syscall.EACCES
				return nil, 0, errno
			}
		}
		fd, openErr := syscall.Open(full, syscall.O_RDONLY, 0)
		if openErr != nil {
			errno = errnoFromErr(openErr)
			return nil, 0, errno
		}
		return n.registerHandle(n.relPath, uintptr(fd)), 0, 0
	}

	fd, openErr := syscall.Open(full, int(flags), 0)
	if openErr != nil {
		errno = errnoFromErr(openErr)
		return nil, 0, errno
	}
	return n.registerHandle(n.relPath, uintptr(fd)), 0, 0
}

func (n *Node) registerHandle(relPath string, fd uintptr) *Handle {
	n.core.mu.Lock()
	h := n.core.allocHandleLocked()
	n.core.Table.Insert(h, openFileEntry(relPath, fd))
	n.core.refreshOpenHandlesMetric()
	n.core.mu.Unlock()
	return &Handle{core: n.core, relPath: relPath, fh: h}
}

// Create opens-or-creates the caller's path with the caller's mode and
// registers it in the OpenFileTable.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childRel := join(n.relPath, name)
	full := n.core.full(childRel)

	fd, err := syscall.Open(full, int(flags)|syscall.O_CREAT, mode)
	if err != nil {
		return nil, nil, 0, errnoFromErr(err)
	}
	n.core.Classifier.Invalidate()

	n.core.mu.Lock()
	h := n.core.allocHandleLocked()
	n.core.Table.Insert(h, openFileEntry(childRel, uintptr(fd)))
	n.core.refreshOpenHandlesMetric()
	n.core.mu.Unlock()

	if info, statErr := os.Lstat(full); statErr == nil {
		n.core.fillAttr(ctx, childRel, info, &out.Attr)
	}

	child := &Node{core: n.core, relPath: childRel}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &Handle{core: n.core, relPath: childRel, fh: h}, 0, 0
}

// Setattr implements chmod/chown/truncate via UnlockGuard (§4.5).
func (n *Node) Setattr(ctx context.Context, _ fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if n.isControl() {
		return syscall.EACCES
	}

	full := n.core.full(n.relPath)

	n.core.mu.Lock()
	err := n.core.Unlock.Do(ctx, n.relPath, 0, 0, guard.UnlockOptions(), nil, func(uintptr) error {
		if sz, ok := in.GetSize(); ok {
			if err := os.Truncate(full, int64(sz)); err != nil {
				return err
			}
		}
		if mode, ok := in.GetMode(); ok {
			if err := os.Chmod(full, os.FileMode(mode)); err != nil {
				return err
			}
		}
		uid, uok := in.GetUID()
		gid, gok := in.GetGID()
		if uok || gok {
			u, g := -1, -1
			if uok {
				u = int(uid)
			}
			if gok {
				g = int(gid)
			}
			if err := os.Chown(full, u, g); err != nil {
				return err
			}
		}
		return nil
	})
	n.core.mu.Unlock()

	if err != nil {
		return errnoFromErr(err)
	}

	if info, statErr := os.Lstat(full); statErr == nil {
		n.core.fillAttr(ctx, n.relPath, info, &out.Attr)
	}
	return 0
}

// Rename implements §4.6's rename sequence, including the ignored-state
// transition commits.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, _ uint32) syscall.Errno {
	newParentNode, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	oldRel := join(n.relPath, name)
	newRel := join(newParentNode.relPath, newName)

	if oldRel == newRel {
		return 0
	}

	n.core.mu.Lock()
	defer n.core.mu.Unlock()

	oldKind, _ := n.core.Classifier.Classify(ctx, oldRel)
	if oldKind != classifier.Ignored {
		if err := n.core.Store.Add(ctx, oldRel); err != nil {
			n.core.logWarn("pre-rename add", oldRel, err)
		}
	}

	if err := syscall.Rename(n.core.full(oldRel), n.core.full(newRel)); err != nil {
		return errnoFromErr(err)
	}
	n.core.Classifier.Invalidate()

	newKind, _ := n.core.Classifier.Classify(ctx, newRel)
	oldIgnored := oldKind == classifier.Ignored
	newIgnored := newKind == classifier.Ignored

	switch {
	case oldIgnored && newIgnored:
		// no commit: both ends are outside versioning.
	case oldIgnored != newIgnored:
		if oldIgnored {
			_ = n.core.Store.Add(ctx, newRel)
			_ = n.core.Store.Commit(ctx, fmt.Sprintf("moved an ignored file to %s", newRel))
		} else {
			_ = n.core.Store.Remove(ctx, oldRel)
			_ = n.core.Store.Commit(ctx, fmt.Sprintf("moved %s to ignored file", oldRel))
		}
	default:
		_ = n.core.Store.Rename(ctx, oldRel, newRel)
		_ = n.core.Store.Commit(ctx, fmt.Sprintf("renamed %s to %s", oldRel, newRel))
	}

	n.core.Classifier.Invalidate()
	return 0
}

// Symlink creates a symlink and, unless ignored, commits it (§4.6).
func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childRel := join(n.relPath, name)

	n.core.mu.Lock()
	defer n.core.mu.Unlock()

	if err := syscall.Symlink(target, n.core.full(childRel)); err != nil {
		return nil, errnoFromErr(err)
	}
	n.core.Classifier.Invalidate()

	kind, _ := n.core.Classifier.Classify(ctx, childRel)
	if kind != classifier.Ignored {
		if err := n.core.Store.Add(ctx, childRel); err != nil {
			n.core.logWarn("symlink add", childRel, err)
		} else if err := n.core.Store.Commit(ctx, fmt.Sprintf("added symlink %s", childRel)); err != nil {
			n.core.logWarn("symlink commit", childRel, err)
		}
	}

	if info, statErr := os.Lstat(n.core.full(childRel)); statErr == nil {
		n.core.fillAttr(ctx, childRel, info, &out.Attr)
	}

	child := &Node{core: n.core, relPath: childRel}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFLNK}), 0
}

// Unlink removes a path and, unless ignored, commits its removal (§4.6).
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	childRel := join(n.relPath, name)

	n.core.mu.Lock()
	defer n.core.mu.Unlock()

	kind, _ := n.core.Classifier.Classify(ctx, childRel)

	if err := syscall.Unlink(n.core.full(childRel)); err != nil {
		return errnoFromErr(err)
	}
	n.core.Classifier.Invalidate()

	if kind != classifier.Ignored {
		if err := n.core.Store.Remove(ctx, childRel); err != nil {
			n.core.logWarn("remove", childRel, err)
		} else if err := n.core.Store.Commit(ctx, fmt.Sprintf("removed %s", childRel)); err != nil {
			n.core.logWarn("remove commit", childRel, err)
		}
	}
	return 0
}

// Mkdir and Rmdir pass straight through to the backing filesystem (§4.6).
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childRel := join(n.relPath, name)
	if err := os.Mkdir(n.core.full(childRel), os.FileMode(mode)); err != nil {
		return nil, errnoFromErr(err)
	}
	if info, statErr := os.Lstat(n.core.full(childRel)); statErr == nil {
		n.core.fillAttr(ctx, childRel, info, &out.Attr)
	}
	child := &Node{core: n.core, relPath: childRel}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	childRel := join(n.relPath, name)
	if err := syscall.Rmdir(n.core.full(childRel)); err != nil {
		return errnoFromErr(err)
	}
	return 0
}

// Readlink passes through to the backing filesystem.
func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := os.Readlink(n.core.full(n.relPath))
	if err != nil {
		return nil, errnoFromErr(err)
	}
	return []byte(target), 0
}

// Statfs reports the backing filesystem's statistics.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	var st syscall.Statfs_t
	if err := syscall.Statfs(n.core.BackingRoot, &st); err != nil {
		return errnoFromErr(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	return 0
}
