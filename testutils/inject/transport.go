package inject

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Transport is an injected gripper transport. Every line handed to RoundTrip is recorded.
type Transport struct {
	RoundTripFunc func(ctx context.Context, line []byte) ([]byte, error)
	LiveFunc      func() bool
	CloseFunc     func() error

	mu     sync.Mutex
	lines  []string
	closed bool
}

// RoundTrip records line and calls the injected RoundTrip.
func (t *Transport) RoundTrip(ctx context.Context, line []byte) ([]byte, error) {
	t.mu.Lock()
	t.lines = append(t.lines, strings.TrimSpace(string(line)))
	t.mu.Unlock()
	if t.RoundTripFunc == nil {
		return nil, errors.New("RoundTrip not injected")
	}
	return t.RoundTripFunc(ctx, line)
}

// Live calls the injected Live or reports whether Close was called.
func (t *Transport) Live() bool {
	if t.LiveFunc == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return !t.closed
	}
	return t.LiveFunc()
}

// Close calls the injected Close or marks the transport closed.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	if t.CloseFunc == nil {
		return nil
	}
	return t.CloseFunc()
}

// Lines returns every line sent so far.
func (t *Transport) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Writes returns the SET lines sent so far.
func (t *Transport) Writes() []string {
	var writes []string
	for _, l := range t.Lines() {
		if strings.HasPrefix(l, "SET") {
			writes = append(writes, l)
		}
	}
	return writes
}

// Reset forgets recorded lines.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
}
