package notify

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// InitSentry configures the global Sentry client. It is a no-op without a
// DSN.
func InitSentry(cfg SentryConfig) (bool, error) {
	if cfg.DSN == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       1.0,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, fmt.Errorf("sentry initialization failed: %w", err)
	}
	return true, nil
}

// FlushSentry waits up to timeout for queued reports.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// OperatorAlerter logs failures on the error stream and, when Sentry is
// configured, reports them there too. It implements pipeline.Alerter.
type OperatorAlerter struct {
	Component string
	Sentry    bool
}

// Alert reports err with msg and key/value context.
func (a OperatorAlerter) Alert(err error, msg string, args ...any) {
	log.Error(msg, append([]any{"error", err}, args...)...)
	if !a.Sentry {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", a.Component)
		scope.SetContext("alert", contextOf(msg, args))
		sentry.CaptureException(err)
	})
}

func contextOf(msg string, args []any) map[string]any {
	out := map[string]any{"message": msg}
	for i := 0; i+1 < len(args); i += 2 {
		out[fmt.Sprint(args[i])] = args[i+1]
	}
	return out
}
