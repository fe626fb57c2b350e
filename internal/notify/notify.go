// Package notify shells out to a caller-configured command template to
// surface sync-engine events to the user (§6: "the notify command template
// is fork+exec'd with the message substituted in place of %s"). Grounded on
// the external-binary exec pattern rclone-rclone's sftp backend uses for
// ssh_external: build an argv slice, run it, don't interpret its output.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sharebox/sharebox/internal/telemetry"
)

// DefaultTemplate is used when the mount is not given a notifycmd option.
const DefaultTemplate = `notify-send "sharebox" "%s"`

// Notifier fork+execs a shell command built from a template containing
// exactly one %s placeholder for the message.
type Notifier struct {
	template string
	logger   *telemetry.Logger
}

// New builds a Notifier. template must contain "%s"; callers validate this
// at mount-option parse time (§6).
func New(template string, logger *telemetry.Logger) *Notifier {
	if template == "" {
		template = DefaultTemplate
	}
	return &Notifier{template: template, logger: logger}
}

// Notify substitutes message into the template and runs it through the
// shell. Failures are logged, never returned: a notification failing must
// not abort the sync run that triggered it.
func (n *Notifier) Notify(ctx context.Context, message string) {
	command := fmt.Sprintf(n.template, message)
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	if out, err := cmd.CombinedOutput(); err != nil && n.logger != nil {
		n.logger.Warn("notification command failed", map[string]interface{}{
			"command": strings.TrimSpace(command),
			"output":  strings.TrimSpace(string(out)),
			"error":   err.Error(),
		})
	}
}
