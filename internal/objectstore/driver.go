// Package objectstore wraps the external content-addressed, versioned store
// that backs a sharebox mount: git plus git-annex. Every operation spawns a
// subprocess against the backing directory and succeeds iff the process
// exits zero (spec §4.2). The working directory is never changed process-
// wide; the backing root is passed explicitly to every invocation, per the
// design note against relying on ambient cwd.
package objectstore

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/sharebox/sharebox/internal/circuit"
	"github.com/sharebox/sharebox/internal/telemetry"
	"github.com/sharebox/sharebox/pkg/errors"
	"github.com/sharebox/sharebox/pkg/health"
	"github.com/sharebox/sharebox/pkg/retry"
)

// healthComponent is the name this driver reports under in a health.Tracker.
const healthComponent = "objectstore"

// Driver is the façade over the external store's command surface (§4.2).
type Driver interface {
	Init(ctx context.Context, hostID string) error
	Unlock(ctx context.Context, path string) error
	Add(ctx context.Context, path string) error
	Commit(ctx context.Context, message string) error
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	FetchAll(ctx context.Context) error
	ListRemotes(ctx context.Context) ([]string, error)
	Merge(ctx context.Context, ref string) error
	ResetHard(ctx context.Context) error
	Clean(ctx context.Context) error
	Get(ctx context.Context, pathspec string) error
	ListTracked(ctx context.Context) ([]string, error)
}

// Runner executes one external command against a working directory and
// returns its combined stdout+stderr. Abstracted out (rather than calling
// os/exec directly from Driver methods) so tests can substitute a fake,
// following the sshClient/sshSession split rclone uses to swap an internal
// implementation for an external-binary one.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// execRunner is the real Runner, backed by os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// CommandDriver is the production Driver implementation.
type CommandDriver struct {
	root     string
	vcsBin   string
	annexBin string
	runner   Runner
	retryer  *retry.Retryer
	breaker  *circuit.CircuitBreaker
	metrics  *telemetry.Metrics
	logger   *telemetry.Logger
	health   *health.Tracker
}

// Option configures a CommandDriver.
type Option func(*CommandDriver)

// WithRunner overrides the command runner (for tests).
func WithRunner(r Runner) Option {
	return func(d *CommandDriver) { d.runner = r }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *CommandDriver) { d.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(d *CommandDriver) { d.logger = l }
}

// WithCircuitBreaker wraps every store command in the given circuit
// breaker, so a string of failures against an unreachable remote fails
// fast instead of retrying into every VFS operation's latency budget.
func WithCircuitBreaker(cb *circuit.CircuitBreaker) Option {
	return func(d *CommandDriver) { d.breaker = cb }
}

// WithHealthTracker records every command's outcome against the "objectstore"
// component of the given tracker, so a mount's /healthz reflects a string of
// failing store commands even before the circuit breaker trips.
func WithHealthTracker(t *health.Tracker) Option {
	return func(d *CommandDriver) {
		d.health = t
		t.RegisterComponent(healthComponent)
	}
}

// WithBinaries overrides the VCS and annex binary names.
func WithBinaries(vcsBin, annexBin string) Option {
	return func(d *CommandDriver) {
		if vcsBin != "" {
			d.vcsBin = vcsBin
		}
		if annexBin != "" {
			d.annexBin = annexBin
		}
	}
}

// NewCommandDriver builds a Driver rooted at the given backing directory.
func NewCommandDriver(root string, opts ...Option) *CommandDriver {
	d := &CommandDriver{
		root:     root,
		vcsBin:   "git",
		annexBin: "annex",
		runner:   execRunner{},
		retryer:  retry.New(retry.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *CommandDriver) vcs(ctx context.Context, args ...string) ([]byte, error) {
	return d.run(ctx, "vcs", d.vcsBin, args...)
}

func (d *CommandDriver) annex(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{d.annexBin}, args...)
	return d.run(ctx, "annex", d.vcsBin, full...)
}

func (d *CommandDriver) run(ctx context.Context, label, name string, args ...string) ([]byte, error) {
	var out []byte

	attempt := func(ctx context.Context) error {
		return d.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			var runErr error
			out, runErr = d.runner.Run(ctx, d.root, name, args...)
			if runErr != nil {
				return errors.New(errors.CodeStoreCommandFailed, "store command failed").
					WithComponent("objectstore").
					WithOperation(label).
					WithContext("args", strings.Join(args, " ")).
					WithContext("output", string(out))
			}
			return nil
		})
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.ExecuteWithContext(ctx, attempt)
	} else {
		err = attempt(ctx)
	}

	if d.metrics != nil {
		d.metrics.RecordStoreCommand(label, err == nil)
	}
	if d.health != nil {
		if err == nil {
			d.health.RecordSuccess(healthComponent)
		} else {
			d.health.RecordError(healthComponent, err)
		}
	}
	if err != nil && d.logger != nil {
		d.logger.Warn("store command failed", map[string]interface{}{
			"command": label, "args": strings.Join(args, " "), "output": string(out),
		})
	}
	return out, err
}

// Init initialises the backing VCS and annex state if not already present.
func (d *CommandDriver) Init(ctx context.Context, hostID string) error {
	if _, err := d.runner.Run(ctx, d.root, "test", "-d", ".git"); err != nil {
		if _, err := d.vcs(ctx, "init"); err != nil {
			return errors.Wrap(errors.CodeStoreInitFailed, err, "vcs init failed")
		}
	}
	if _, err := d.runner.Run(ctx, d.root, "test", "-d", ".git/annex"); err != nil {
		if _, err := d.annex(ctx, "init", hostID); err != nil {
			return errors.Wrap(errors.CodeStoreInitFailed, err, "annex init failed")
		}
	}
	return nil
}

// Unlock replaces the immutable link at path with a writable copy in place.
func (d *CommandDriver) Unlock(ctx context.Context, path string) error {
	_, err := d.annex(ctx, "unlock", path)
	return err
}

// Add ingests path into the content-addressed store, leaving a symlink.
func (d *CommandDriver) Add(ctx context.Context, path string) error {
	_, err := d.annex(ctx, "add", path)
	return err
}

// Commit records the staged tree as a new revision. A commit with nothing
// staged is treated as success per §4.2 (the VCS reports "nothing to
// commit" with a non-zero exit, which is not a real failure here).
func (d *CommandDriver) Commit(ctx context.Context, message string) error {
	out, err := d.vcs(ctx, "commit", "-m", message)
	if err != nil && isNothingToCommit(out) {
		return nil
	}
	if err == nil && d.metrics != nil {
		d.metrics.RecordCommit()
	}
	return err
}

func isNothingToCommit(output []byte) bool {
	s := strings.ToLower(string(output))
	return strings.Contains(s, "nothing to commit") || strings.Contains(s, "nothing added to commit")
}

// Remove stages the deletion of path.
func (d *CommandDriver) Remove(ctx context.Context, path string) error {
	_, err := d.vcs(ctx, "rm", path)
	return err
}

// Rename stages a tracked-tree move from oldPath to newPath.
func (d *CommandDriver) Rename(ctx context.Context, oldPath, newPath string) error {
	_, err := d.vcs(ctx, "mv", oldPath, newPath)
	return err
}

// FetchAll fetches new history from every configured remote.
func (d *CommandDriver) FetchAll(ctx context.Context) error {
	_, err := d.vcs(ctx, "fetch", "--all")
	return err
}

// ListRemotes returns the configured remote names.
func (d *CommandDriver) ListRemotes(ctx context.Context) ([]string, error) {
	out, err := d.vcs(ctx, "remote")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(string(out)), nil
}

// Merge attempts to merge ref into the current branch.
func (d *CommandDriver) Merge(ctx context.Context, ref string) error {
	_, err := d.vcs(ctx, "merge", "--no-edit", ref)
	return err
}

// ResetHard discards uncommitted changes and resets to HEAD.
func (d *CommandDriver) ResetHard(ctx context.Context) error {
	_, err := d.vcs(ctx, "reset", "--hard")
	return err
}

// Clean removes untracked files left over from a failed merge.
func (d *CommandDriver) Clean(ctx context.Context) error {
	_, err := d.vcs(ctx, "clean", "-fd")
	return err
}

// Get ensures the object(s) linked from pathspec are materialised locally.
func (d *CommandDriver) Get(ctx context.Context, pathspec string) error {
	_, err := d.annex(ctx, "get", pathspec)
	return err
}

// ListTracked lists tracked, untracked, modified, and deleted paths with
// standard ignore rules applied — the classifier's source of truth for
// whether a path is under version control (§4.1).
func (d *CommandDriver) ListTracked(ctx context.Context) ([]string, error) {
	out, err := d.vcs(ctx, "ls-files", "-c", "-o", "-d", "-m", "--full-name", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(string(out)), nil
}

func splitNonEmptyLines(s string) []string {
	lines := strings.Split(s, "\n")
	result := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			result = append(result, l)
		}
	}
	return result
}
