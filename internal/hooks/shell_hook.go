package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ShellHook runs an external command on every fired event, passing the
// event name as argv[1] and payload entries as KEY=VALUE environment
// variables prefixed SLIMSTREAMER_.
type ShellHook struct {
	command string
	timeout time.Duration
}

// NewShellHook returns a ShellHook invoking command. A zero timeout means no
// deadline is imposed on the child process.
func NewShellHook(command string, timeout time.Duration) *ShellHook {
	return &ShellHook{command: command, timeout: timeout}
}

func (h *ShellHook) Fire(event Event, payload Payload) error {
	ctx := context.Background()
	var cancel context.CancelFunc
	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, h.command, string(event))
	env := make([]string, 0, len(payload))
	for k, v := range payload {
		env = append(env, fmt.Sprintf("SLIMSTREAMER_%s=%v", k, v))
	}
	cmd.Env = append(cmd.Environ(), env...)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell hook %q: %w", h.command, err)
	}
	return nil
}
