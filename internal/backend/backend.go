// Package backend defines the transfer-method dispatch abstraction
// (SPEC_FULL.md §4.3): a capability set of six operations plus
// package-level Init/Finalize hooks, and a name→implementation registry
// that each concrete backend package's Register function populates
// (atl.Init calls them), after the pattern backend/union/policy.go uses
// for named policies and backend/all/all.go uses for compiled-in Fs
// implementations.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/ecp-veloc/atl/internal/model"
)

// Outcome is the tri-state result of Test/Wait, per SPEC_FULL.md §4.3.
type Outcome int

// Recognized outcomes.
const (
	InProgress Outcome = iota
	CompletedSuccess
	CompletedError
)

// Backend is the capability set every transfer method implements. All
// six methods are keyed by handle ID; a Backend is expected to be safe
// for concurrent calls against distinct IDs but need not serialize calls
// against the same ID (the registry's caller is responsible for that,
// per SPEC_FULL.md §5).
type Backend interface {
	// Start begins (or, for a pool/daemon backend, enqueues) the copy
	// for every file entry in h.
	Start(ctx context.Context, h *model.Handle) error
	// Test is a non-blocking progress check.
	Test(ctx context.Context, h *model.Handle) (Outcome, error)
	// Wait blocks until Test would report a terminal Outcome.
	Wait(ctx context.Context, h *model.Handle) error
	// Cancel requests early termination; it is idempotent and may
	// return before in-flight bytes are fully quiesced.
	Cancel(ctx context.Context, h *model.Handle) error
	// Resume re-binds backend resources to a handle reloaded from a
	// persisted state file. Returns ErrResumeUnsupported if the
	// backend doesn't support it.
	Resume(ctx context.Context, h *model.Handle) error
	// Free releases any backend-held resources for h (queue nodes,
	// cached descriptors, cookies). Called once a handle reaches a
	// terminal state and is about to be removed from the registry.
	Free(ctx context.Context, h *model.Handle) error
}

// Lifecycle is implemented by backends that need process-wide setup and
// teardown beyond the per-handle Backend methods.
type Lifecycle interface {
	Init(ctx context.Context) error
	Finalize(ctx context.Context) error
}

// ErrResumeUnsupported is returned by backends that do not implement
// the optional Resume capability.
var ErrResumeUnsupported = fmt.Errorf("backend: resume not supported")

var (
	mu       sync.Mutex
	registry = make(map[model.TransferKind]Backend)
)

// Register binds kind to b. Each concrete backend package's own
// Register wrapper calls this, and atl.Init calls those wrappers; a
// TransferKind with no registered Backend (for example Daemon when no
// transfer file is configured) is reported by Get as not compiled in.
func Register(kind model.TransferKind, b Backend) {
	mu.Lock()
	defer mu.Unlock()
	registry[kind] = b
}

// Get resolves kind to its registered Backend.
func Get(kind model.TransferKind) (Backend, error) {
	mu.Lock()
	defer mu.Unlock()
	b, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("backend: %s not compiled in", kind)
	}
	return b, nil
}

// InitAll calls Init on every registered backend that implements
// Lifecycle. Used by the registry's top-level Init.
func InitAll(ctx context.Context) error {
	mu.Lock()
	backends := make([]Backend, 0, len(registry))
	for _, b := range registry {
		backends = append(backends, b)
	}
	mu.Unlock()
	for _, b := range backends {
		if lc, ok := b.(Lifecycle); ok {
			if err := lc.Init(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// FinalizeAll calls Finalize on every registered backend that implements
// Lifecycle, collecting (not short-circuiting on) the first error so
// every backend gets a chance to release its resources.
func FinalizeAll(ctx context.Context) error {
	mu.Lock()
	backends := make([]Backend, 0, len(registry))
	for _, b := range registry {
		backends = append(backends, b)
	}
	mu.Unlock()
	var firstErr error
	for _, b := range backends {
		if lc, ok := b.(Lifecycle); ok {
			if err := lc.Finalize(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
