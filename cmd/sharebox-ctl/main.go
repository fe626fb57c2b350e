// Command sharebox-ctl drives a running sharebox mount's control channel
// (§6 Control CLI): it verifies the target is actually mounted, then writes
// the given command to the mount's virtual control file.
//
// Usage: sharebox-ctl -c <command> <mountpoint>
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sharebox/sharebox/internal/classifier"
	"github.com/sharebox/sharebox/internal/mounttab"
)

var validVerbs = map[string]bool{"sync": true, "merge": true, "get": true}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sharebox-ctl:", err)
		os.Exit(1)
	}
}

func run() error {
	command := pflag.StringP("command", "c", "", "command to send: sync, merge, or get <pathspec>")
	pflag.Parse()

	args := pflag.Args()
	if *command == "" || len(args) != 1 {
		return fmt.Errorf("usage: sharebox-ctl -c <command> <mountpoint>")
	}
	mountPoint := args[0]

	verb := strings.Fields(*command)
	if len(verb) == 0 || !validVerbs[verb[0]] {
		return fmt.Errorf("unrecognised command %q: must start with sync, merge, or get", *command)
	}

	abs, err := filepath.Abs(mountPoint)
	if err != nil {
		return fmt.Errorf("resolve mountpoint: %w", err)
	}

	mounted, err := mounttab.IsMountPoint(abs)
	if err != nil {
		return fmt.Errorf("check mount table: %w", err)
	}
	if !mounted {
		entries, _ := mounttab.Entries()
		return fmt.Errorf("%s is not in the system mount table (known mounts: %s)", abs, strings.Join(entries, ", "))
	}

	controlFile := filepath.Join(abs, classifier.ControlPath)
	f, err := os.OpenFile(controlFile, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open control file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(*command + "\n"); err != nil {
		return fmt.Errorf("write control command: %w", err)
	}
	return nil
}
