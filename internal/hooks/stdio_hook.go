package hooks

import "log/slog"

// StdioHook logs every fired event as a structured line. It is the default
// hook wired in cmd/slimstreamer when no external sink is configured.
type StdioHook struct {
	logger *slog.Logger
}

// NewStdioHook returns a StdioHook that writes through log.
func NewStdioHook(log *slog.Logger) *StdioHook {
	return &StdioHook{logger: log}
}

func (h *StdioHook) Fire(event Event, payload Payload) error {
	args := make([]any, 0, len(payload)*2)
	for k, v := range payload {
		args = append(args, k, v)
	}
	h.logger.Info(string(event), args...)
	return nil
}
