package websocket

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
)

var (
	// ErrFrameAlreadyAllowed is returned when adding a duplicate frame type.
	ErrFrameAlreadyAllowed = errors.New("frame type already allowed")
	// ErrInvalidFrameType is returned when an empty frame type is provided.
	ErrInvalidFrameType = errors.New("frame type cannot be empty")
)

// FrameAllowlist is the set of client frame types a channel forwards to the bus.
type FrameAllowlist struct {
	mu      sync.RWMutex
	allowed []string
}

// NewFrameAllowlist creates an allowlist, ignoring empty entries.
func NewFrameAllowlist(frameTypes ...string) *FrameAllowlist {
	valid := make([]string, 0, len(frameTypes))
	for _, ft := range frameTypes {
		if ft != "" && !slices.Contains(valid, ft) {
			valid = append(valid, ft)
		}
	}
	return &FrameAllowlist{allowed: valid}
}

// IsAllowed reports whether frameType may be forwarded.
func (w *FrameAllowlist) IsAllowed(frameType string) bool {
	if frameType == "" {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	return slices.Contains(w.allowed, frameType)
}

// Allow adds a frame type.
func (w *FrameAllowlist) Allow(frameType string) error {
	if frameType == "" {
		return ErrInvalidFrameType
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if slices.Contains(w.allowed, frameType) {
		return ErrFrameAlreadyAllowed
	}
	w.allowed = append(w.allowed, frameType)
	slog.Debug("Allowed websocket frame type", "type", frameType)
	return nil
}

// Types returns a copy of the allowed frame types.
func (w *FrameAllowlist) Types() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.allowed)
}
