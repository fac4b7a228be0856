// Package registry implements the HandleRegistry: the state machine
// governing Create→Add→Dispatch→Test/Wait→Free (plus Cancel/Stop/Resume)
// described in SPEC_FULL.md §4.2. It owns the map of live handles, the
// monotonic ID generator, and the per-operation state checks (it does
// not re-check the data-model invariants after a transition); it knows nothing
// about how bytes actually move — that's delegated to a backend.Backend
// resolved by the handle's TransferKind.
//
// Grounded on backend/union/policy.go's name→implementation Get/Register
// pair for backend resolution, and on backend/cache's mutex-guarded
// in-memory directory cache for the handle map itself.
package registry

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ecp-veloc/atl/internal/atlerr"
	"github.com/ecp-veloc/atl/internal/backend"
	"github.com/ecp-veloc/atl/internal/model"
	"github.com/ecp-veloc/atl/internal/state"
)

// Registry is the live set of handles for one Library. It is safe for
// concurrent use.
type Registry struct {
	log *logrus.Logger

	mu      sync.Mutex
	handles map[int64]*model.Handle
	nextID  int64

	persist *state.Persistence
}

// New returns an initialized, empty Registry. persist may be nil, in
// which case state transitions are not snapshotted (used by tests that
// don't exercise the persisted-state-file feature).
func New(log *logrus.Logger, persist *state.Persistence) *Registry {
	return &Registry{
		log:     log,
		handles: make(map[int64]*model.Handle),
		persist: persist,
	}
}

// Init starts every compiled-in backend's process-wide setup.
func (r *Registry) Init(ctx context.Context) error {
	return backend.InitAll(ctx)
}

// Finalize tears down every compiled-in backend. Handles still live in
// the registry at Finalize time are left as-is; callers are expected to
// have driven every handle to a terminal state and Freed it first.
func (r *Registry) Finalize(ctx context.Context) error {
	return backend.FinalizeAll(ctx)
}

// Create allocates a new handle in the Created state for kind, owned by
// userName, optionally snapshotting to stateFilePath (empty to disable).
func (r *Registry) Create(kind model.TransferKind, userName, stateFilePath string) (*model.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := backend.Get(kind); err != nil {
		return nil, atlerr.Wrap(atlerr.StateMisuse, err, "create")
	}

	id := atomic.AddInt64(&r.nextID, 1)
	h := model.NewHandle(id, kind, userName, stateFilePath)
	r.handles[id] = h
	r.snapshot(h)
	return h, nil
}

// Get returns the handle for id, or a StateMisuse error if it doesn't
// exist (already Freed, or never created).
func (r *Registry) Get(id int64) (*model.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, atlerr.New(atlerr.StateMisuse, "handle not found").WithHandle(id)
	}
	return h, nil
}

// Add records a source/destination pair on a handle still in the Created
// state. Add after Dispatch is rejected as state-machine misuse.
func (r *Registry) Add(id int64, source, destination string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return atlerr.New(atlerr.StateMisuse, "handle not found").WithHandle(id)
	}
	if h.State != model.Created {
		return atlerr.New(atlerr.StateMisuse, "cannot add to a dispatched handle").WithHandle(id)
	}
	if !h.AddFile(source, destination) {
		return atlerr.New(atlerr.StateMisuse, "source already added").WithHandle(id).WithSource(source)
	}
	return nil
}

// Dispatch records each readable source's size, transitions a Created
// handle to Dispatched and asks its backend to Start moving bytes.
// Dispatch on an empty handle (no files added) is a no-op that still
// transitions to Completed immediately (the zero-file decision recorded
// in DESIGN.md).
func (r *Registry) Dispatch(ctx context.Context, id int64) error {
	h, err := r.lockedHandle(id)
	if err != nil {
		return err
	}
	if h.State != model.Created {
		return atlerr.New(atlerr.StateMisuse, "already dispatched").WithHandle(id)
	}
	if len(h.Sources) == 0 {
		r.transition(h, model.Completed)
		return nil
	}
	h.RangeFiles(func(fe *model.FileEntry) {
		if fi, serr := os.Stat(fe.Source); serr == nil {
			fe.Size = fi.Size()
		}
	})

	b, err := backend.Get(h.Kind)
	if err != nil {
		return atlerr.Wrap(atlerr.StateMisuse, err, "dispatch").WithHandle(id)
	}
	r.transition(h, model.Dispatched)
	if err := b.Start(ctx, h); err != nil {
		r.transition(h, model.Error)
		return atlerr.Wrap(atlerr.BackendFailure, err, "backend start").WithHandle(id)
	}
	return nil
}

// Test is a non-blocking progress check; it updates and returns h.State.
func (r *Registry) Test(ctx context.Context, id int64) (model.HandleState, error) {
	h, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	if h.State.Terminal() {
		return h.State, nil
	}
	b, err := backend.Get(h.Kind)
	if err != nil {
		return 0, atlerr.Wrap(atlerr.StateMisuse, err, "test").WithHandle(id)
	}
	outcome, err := b.Test(ctx, h)
	if err != nil {
		return h.State, atlerr.Wrap(atlerr.BackendFailure, err, "backend test").WithHandle(id)
	}
	r.applyOutcome(h, outcome)
	return h.State, nil
}

// Wait blocks until the handle reaches a terminal state.
func (r *Registry) Wait(ctx context.Context, id int64) error {
	h, err := r.Get(id)
	if err != nil {
		return err
	}
	if h.State.Terminal() {
		return nil
	}
	b, err := backend.Get(h.Kind)
	if err != nil {
		return atlerr.Wrap(atlerr.StateMisuse, err, "wait").WithHandle(id)
	}
	if err := b.Wait(ctx, h); err != nil {
		return atlerr.Wrap(atlerr.BackendFailure, err, "backend wait").WithHandle(id)
	}
	outcome := backend.CompletedSuccess
	if h.AnyError() {
		outcome = backend.CompletedError
	}
	r.applyOutcome(h, outcome)
	return nil
}

// Cancel requests early termination of an in-flight handle.
func (r *Registry) Cancel(ctx context.Context, id int64) error {
	h, err := r.Get(id)
	if err != nil {
		return err
	}
	if h.State.Terminal() {
		return nil
	}
	b, err := backend.Get(h.Kind)
	if err != nil {
		return atlerr.Wrap(atlerr.StateMisuse, err, "cancel").WithHandle(id)
	}
	if err := b.Cancel(ctx, h); err != nil {
		return atlerr.Wrap(atlerr.BackendFailure, err, "backend cancel").WithHandle(id)
	}
	r.mu.Lock()
	r.transition(h, model.Cancelled)
	r.mu.Unlock()
	return nil
}

// Stop cancels every non-terminal handle in the registry, for process
// shutdown (SPEC_FULL.md §4.2 "Stop").
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.handles))
	for id, h := range r.handles {
		if !h.State.Terminal() {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := r.Cancel(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Free releases backend resources for a terminal handle and removes it
// from the registry. Free on a non-terminal handle is rejected as
// state-machine misuse.
func (r *Registry) Free(ctx context.Context, id int64) error {
	h, err := r.Get(id)
	if err != nil {
		return err
	}
	if !h.State.Terminal() {
		return atlerr.New(atlerr.StateMisuse, "cannot free a non-terminal handle").WithHandle(id)
	}
	if b, berr := backend.Get(h.Kind); berr == nil {
		if err := b.Free(ctx, h); err != nil {
			return atlerr.Wrap(atlerr.BackendFailure, err, "backend free").WithHandle(id)
		}
	}
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
	if r.persist != nil {
		r.persist.Remove(id)
	}
	return nil
}

// Restore inserts handles reloaded from a persisted state file directly
// into the registry, bypassing Create/Add, and bumps nextID past the
// highest restored ID so a newly Created handle never collides with
// one recovered from disk. Called by atl.Library at Init so a crashed
// process's in-flight handles are visible to Resume/Test/Wait/Free
// without the caller re-driving Create/Add for each one.
func (r *Registry) Restore(handles []*model.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		r.handles[h.ID] = h
		if h.ID > r.nextID {
			atomic.StoreInt64(&r.nextID, h.ID)
		}
	}
}

// Resume re-binds a handle already loaded into the registry (by Restore,
// at Library Init) back to its backend after a restart. Legal only
// while the handle is Dispatched, per SPEC_FULL.md §4.2 "Resume".
func (r *Registry) Resume(ctx context.Context, id int64) error {
	h, err := r.lockedHandle(id)
	if err != nil {
		return err
	}
	if h.State != model.Dispatched {
		return atlerr.New(atlerr.StateMisuse, "resume requires a dispatched handle").WithHandle(id)
	}

	b, err := backend.Get(h.Kind)
	if err != nil {
		return atlerr.Wrap(atlerr.StateMisuse, err, "resume").WithHandle(id)
	}
	if err := b.Resume(ctx, h); err != nil && err != backend.ErrResumeUnsupported {
		return atlerr.Wrap(atlerr.BackendFailure, err, "backend resume").WithHandle(id)
	}
	return nil
}

func (r *Registry) lockedHandle(id int64) (*model.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, atlerr.New(atlerr.StateMisuse, "handle not found").WithHandle(id)
	}
	return h, nil
}

func (r *Registry) applyOutcome(h *model.Handle, outcome backend.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case backend.CompletedSuccess:
		r.transition(h, model.Completed)
	case backend.CompletedError:
		r.transition(h, model.Error)
	}
}

// transition moves h to state and snapshots it. Caller must hold r.mu.
func (r *Registry) transition(h *model.Handle, state model.HandleState) {
	h.State = state
	if r.log != nil {
		r.log.WithField("handle", h.ID).WithField("state", state.String()).Debug("handle transitioned")
	}
	r.snapshot(h)
}

func (r *Registry) snapshot(h *model.Handle) {
	if r.persist == nil {
		return
	}
	if err := r.persist.Snapshot(h); err != nil && r.log != nil {
		r.log.WithField("handle", h.ID).WithError(err).Warn("failed to snapshot handle state")
	}
}
