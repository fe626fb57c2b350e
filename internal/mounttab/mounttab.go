// Package mounttab answers the one question the control CLI needs before
// writing to a mount's control file (§6): is this path actually a live
// FUSE mount, not just some directory the caller typed. Grounded on the
// teacher's internal/fuse/mount.go isAlreadyMounted, replacing its
// substring search over /proc/mounts with the same device-boundary check
// the mountpoint(1) utility uses, and golang.org/x/sys/unix in place of
// the stdlib syscall package for the raw stat call.
package mounttab

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// IsMountPoint reports whether path is the root of a distinct filesystem:
// its device number differs from its parent directory's. This is how the
// kernel itself exposes mount boundaries and does not depend on the
// mount's name appearing verbatim in /proc/mounts (bind mounts and mount
// namespaces can make that unreliable).
func IsMountPoint(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve mount point: %w", err)
	}

	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return false, fmt.Errorf("stat %s: %w", abs, err)
	}

	parent := filepath.Dir(abs)
	var parentSt unix.Stat_t
	if err := unix.Stat(parent, &parentSt); err != nil {
		return false, fmt.Errorf("stat %s: %w", parent, err)
	}

	return st.Dev != parentSt.Dev, nil
}

// Entries lists the second field (mount point) of every line in
// /proc/mounts, for diagnostics when a control command targets a path
// that is not a live mount.
func Entries() ([]string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, fmt.Errorf("open /proc/mounts: %w", err)
	}
	defer f.Close()

	var points []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := splitFields(scanner.Text())
		if len(fields) >= 2 {
			points = append(points, fields[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read /proc/mounts: %w", err)
	}
	return points, nil
}

func splitFields(line string) []string {
	var fields []string
	start := -1
	for i, r := range line {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}
