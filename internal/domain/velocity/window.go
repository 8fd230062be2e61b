package velocity

import (
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/fraud-engine/internal/domain/errors"
)

// Window counts occurrences of an action for one identifier within a bounded
// time interval. At most one open window (WindowEnd > now) exists per
// (identifier, action) pair; expired windows linger until cleanup and are
// never mutated except for the count increment while open.
type Window struct {
	ID          uuid.UUID         `json:"id"`
	Identifier  string            `json:"identifier"`
	Action      string            `json:"action"`
	Count       int64             `json:"count"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewWindow opens a window at now (truncated to the minute) lasting
// windowMinutes, with an initial count of one.
func NewWindow(identifier, action string, windowMinutes int, now time.Time) (*Window, error) {
	if identifier == "" {
		return nil, errors.NewValidationError("INVALID_IDENTIFIER", "identifier cannot be empty")
	}
	if action == "" {
		return nil, errors.NewValidationError("INVALID_ACTION", "action cannot be empty")
	}
	if windowMinutes <= 0 {
		return nil, errors.NewValidationError("INVALID_WINDOW", "window minutes must be positive")
	}

	start := now.UTC().Truncate(time.Minute)
	return &Window{
		ID:          uuid.New(),
		Identifier:  identifier,
		Action:      action,
		Count:       1,
		WindowStart: start,
		WindowEnd:   start.Add(time.Duration(windowMinutes) * time.Minute),
		Metadata:    make(map[string]string),
	}, nil
}

// IsOpen reports whether the window is still accepting increments.
func (w *Window) IsOpen(now time.Time) bool {
	return w.WindowEnd.After(now)
}

// MergeMetadata copies new keys into the window metadata, keeping existing
// values on conflict.
func (w *Window) MergeMetadata(md map[string]string) {
	if len(md) == 0 {
		return
	}
	if w.Metadata == nil {
		w.Metadata = make(map[string]string, len(md))
	}
	for k, v := range md {
		if _, ok := w.Metadata[k]; !ok {
			w.Metadata[k] = v
		}
	}
}

// CheckResult is the outcome of a limit check for one (identifier, action).
type CheckResult struct {
	Exceeded     bool  `json:"exceeded"`
	CurrentCount int64 `json:"current_count"`
	Remaining    int64 `json:"remaining"`
}
