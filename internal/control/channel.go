// Package control implements the ControlChannel (§4.7): parsing of
// newline-delimited commands written to the virtual control file and
// dispatching them to the sync engine or the object store driver.
package control

import (
	"context"
	"strings"

	"github.com/sharebox/sharebox/internal/telemetry"
)

// Syncer is the subset of the sync engine the control channel drives.
type Syncer interface {
	Run(ctx context.Context, manualMerge bool) error
}

// Getter is the subset of the object store driver the control channel
// drives for `get <pathspec>`.
type Getter interface {
	Get(ctx context.Context, pathspec string) error
}

// Channel parses and dispatches control messages (§4.7). Unrecognised
// commands are ignored; the write is always reported as fully consumed to
// the kernel regardless of parse outcome, per the §9 design note about the
// control-file write reply size.
type Channel struct {
	sync   Syncer
	getter Getter
	logger *telemetry.Logger
}

// New builds a Channel wired to the given sync engine and store driver.
func New(sync Syncer, getter Getter, logger *telemetry.Logger) *Channel {
	return &Channel{sync: sync, getter: getter, logger: logger}
}

// Handle parses data as one or more newline-terminated commands and runs
// each recognised one. It always returns len(data): the kernel must not
// retry a short write on this virtual file.
func (c *Channel) Handle(ctx context.Context, data []byte) int {
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		if err := c.dispatch(ctx, cmd); err != nil && c.logger != nil {
			c.logger.Warn("control command failed", map[string]interface{}{"command": cmd, "error": err.Error()})
		}
	}
	return len(data)
}

func (c *Channel) dispatch(ctx context.Context, cmd string) error {
	fields := strings.SplitN(cmd, " ", 2)
	verb := fields[0]

	switch verb {
	case "sync":
		if c.sync == nil {
			return nil
		}
		return c.sync.Run(ctx, false)
	case "merge":
		if c.sync == nil {
			return nil
		}
		return c.sync.Run(ctx, true)
	case "get":
		if c.getter == nil || len(fields) < 2 {
			return nil
		}
		return c.getter.Get(ctx, strings.TrimSpace(fields[1]))
	default:
		return nil
	}
}
