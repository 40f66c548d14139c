package domain

import (
	"context"
	"time"
)

// Driver is the UI-automation session that operates the chat platform.
// There is one logical session per process; it is injected into the
// monitor and dispatcher rather than held as global state.
//
// All operations are best-effort: failures surface as false returns, never
// as panics, and never block past the given timeout.
type Driver interface {
	// Open brings the named contact's chat to the foreground.
	Open(ctx context.Context, contact string) bool

	// WaitForChange blocks until the visible chat state changes or the
	// timeout elapses. Returns true when a change was detected.
	WaitForChange(ctx context.Context, timeout time.Duration) bool

	// SendText opens the contact's chat and transmits the text.
	SendText(ctx context.Context, contact, text string) bool

	// IsLoggedIn reports whether the platform session is authenticated.
	IsLoggedIn(ctx context.Context) bool

	// Activate re-foregrounds or refreshes the platform session. Used by
	// the health check to recover from a degraded state.
	Activate(ctx context.Context) bool
}

// Analyzer is the external classification call used by the decision engine.
// Errors are never fatal to a forwarding decision: callers fall back to
// keyword analysis.
type Analyzer interface {
	// Analyze submits message content plus a one-line sender-context note
	// and returns the classifier's label.
	Analyze(ctx context.Context, content, senderContext string) (string, error)
}
