package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	atlbackend "github.com/ecp-veloc/atl/internal/backend"
	"github.com/ecp-veloc/atl/internal/model"
)

// fakeBackend is a minimal in-memory Backend double: Start marks every
// file AtDestination immediately unless failNext is set, in which case
// the handle is left with one FileError entry. It lets registry tests
// exercise the state machine without touching real file I/O.
type fakeBackend struct {
	failNext  bool
	cancelled map[int64]bool
	freed     map[int64]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{cancelled: map[int64]bool{}, freed: map[int64]bool{}}
}

func (f *fakeBackend) Start(ctx context.Context, h *model.Handle) error {
	h.RangeFiles(func(fe *model.FileEntry) {
		if f.failNext {
			fe.State = model.FileError
			fe.ErrorMessage = "injected failure"
			return
		}
		fe.State = model.AtDestination
	})
	return nil
}

func (f *fakeBackend) Test(ctx context.Context, h *model.Handle) (atlbackend.Outcome, error) {
	if h.AnyError() {
		return atlbackend.CompletedError, nil
	}
	return atlbackend.CompletedSuccess, nil
}

func (f *fakeBackend) Wait(ctx context.Context, h *model.Handle) error { return nil }

func (f *fakeBackend) Cancel(ctx context.Context, h *model.Handle) error {
	f.cancelled[h.ID] = true
	return nil
}

func (f *fakeBackend) Resume(ctx context.Context, h *model.Handle) error {
	return atlbackend.ErrResumeUnsupported
}

func (f *fakeBackend) Free(ctx context.Context, h *model.Handle) error {
	f.freed[h.ID] = true
	return nil
}

func TestDispatchTestFreeHappyPath(t *testing.T) {
	fb := newFakeBackend()
	atlbackend.Register(model.Sync, fb)

	reg := New(nil, nil)
	id, err := reg.Create(model.Sync, "alice", "")
	require.NoError(t, err)
	require.NoError(t, reg.Add(id, "/src/a", "/dst/a"))

	require.NoError(t, reg.Dispatch(context.Background(), id))

	state, err := reg.Test(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.Completed, state)

	require.NoError(t, reg.Free(context.Background(), id))
	assert.True(t, fb.freed[id])

	_, err = reg.Get(id)
	assert.Error(t, err, "handle should be gone after Free")
}

func TestDispatchBackendFailureTransitionsToError(t *testing.T) {
	fb := newFakeBackend()
	fb.failNext = true
	atlbackend.Register(model.Sync, fb)

	reg := New(nil, nil)
	id, err := reg.Create(model.Sync, "bob", "")
	require.NoError(t, err)
	require.NoError(t, reg.Add(id, "/src/a", "/dst/a"))
	require.NoError(t, reg.Dispatch(context.Background(), id))

	state, err := reg.Test(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.Error, state)
}

func TestAddAfterDispatchRejected(t *testing.T) {
	fb := newFakeBackend()
	atlbackend.Register(model.Sync, fb)

	reg := New(nil, nil)
	id, err := reg.Create(model.Sync, "carol", "")
	require.NoError(t, err)
	require.NoError(t, reg.Add(id, "/src/a", "/dst/a"))
	require.NoError(t, reg.Dispatch(context.Background(), id))

	err = reg.Add(id, "/src/b", "/dst/b")
	assert.Error(t, err)
}

func TestFreeNonTerminalRejected(t *testing.T) {
	fb := newFakeBackend()
	atlbackend.Register(model.Sync, fb)

	reg := New(nil, nil)
	id, err := reg.Create(model.Sync, "dave", "")
	require.NoError(t, err)
	require.NoError(t, reg.Add(id, "/src/a", "/dst/a"))
	require.NoError(t, reg.Dispatch(context.Background(), id))
	// Dispatch only moves the handle to Dispatched; Test/Wait haven't run
	// yet to observe the backend's (already-finished) outcome, so the
	// handle is still non-terminal from the registry's point of view.

	err = reg.Free(context.Background(), id)
	assert.Error(t, err, "Free before Test/Wait observes a terminal outcome must be rejected")
}

func TestDispatchEmptyHandleCompletesImmediately(t *testing.T) {
	fb := newFakeBackend()
	atlbackend.Register(model.Sync, fb)

	reg := New(nil, nil)
	id, err := reg.Create(model.Sync, "erin", "")
	require.NoError(t, err)

	require.NoError(t, reg.Dispatch(context.Background(), id))
	state, err := reg.Test(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.Completed, state)
}

func TestResumeRequiresDispatchedState(t *testing.T) {
	fb := newFakeBackend()
	atlbackend.Register(model.Sync, fb)

	reg := New(nil, nil)
	id, err := reg.Create(model.Sync, "grace", "")
	require.NoError(t, err)
	require.NoError(t, reg.Add(id, "/src/a", "/dst/a"))

	// still Created, never Dispatched: Resume must reject it.
	err = reg.Resume(context.Background(), id)
	assert.Error(t, err)

	require.NoError(t, reg.Dispatch(context.Background(), id))
	require.NoError(t, reg.Resume(context.Background(), id))

	// Test/Wait observe the backend's outcome and move the handle to a
	// terminal state; Resume is then no longer legal.
	_, err = reg.Test(context.Background(), id)
	require.NoError(t, err)
	err = reg.Resume(context.Background(), id)
	assert.Error(t, err)
}

func TestRestoreMakesPersistedHandleVisibleToResume(t *testing.T) {
	fb := newFakeBackend()
	atlbackend.Register(model.Sync, fb)

	reg := New(nil, nil)
	h := model.NewHandle(42, model.Sync, "heidi", "")
	h.AddFile("/src/a", "/dst/a")
	h.State = model.Dispatched

	reg.Restore([]*model.Handle{h})

	require.NoError(t, reg.Resume(context.Background(), 42))

	// Restore must also bump nextID so a subsequent Create never
	// collides with a restored ID.
	id, err := reg.Create(model.Sync, "heidi", "")
	require.NoError(t, err)
	assert.Greater(t, id, int64(42))
}

func TestCancelMarksCancelledAndInvokesBackend(t *testing.T) {
	fb := newFakeBackend()
	atlbackend.Register(model.WorkerPool, fb)

	reg := New(nil, nil)
	id, err := reg.Create(model.WorkerPool, "frank", "")
	require.NoError(t, err)
	require.NoError(t, reg.Add(id, "/src/a", "/dst/a"))
	require.NoError(t, reg.Dispatch(context.Background(), id))

	require.NoError(t, reg.Cancel(context.Background(), id))
	assert.True(t, fb.cancelled[id])

	h, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.Cancelled, h.State)
}
