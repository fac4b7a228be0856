// Package daemonclient implements the library side of the Daemon
// transfer kind (DaemonBackend, SPEC_FULL.md/spec.md §4.6): it never
// touches bytes itself, only the shared transfer file, which the
// separate DaemonCopier process (internal/daemoncopier) actually drains.
// The key names below are those of the transfer-file schema listed in
// SPEC_FULL.md §4.6.
package daemonclient

import (
	"context"
	"fmt"
	"time"

	"github.com/ecp-veloc/atl/internal/backend"
	"github.com/ecp-veloc/atl/internal/kvtree"
	"github.com/ecp-veloc/atl/internal/model"
)

const (
	keyBW      = "BW"
	keyPercent = "PERCENT"
	keyCommand = "COMMAND"
	keyState   = "STATE"
	keyFlag    = "FLAG"
	keyIDRoot  = "ID"
	keyFiles   = "FILES"
	keyDest    = "DESTINATION"
	keySize    = "SIZE"
	keyWritten = "WRITTEN"
	keyError   = "ERROR"

	commandRun  = "RUN"
	commandStop = "STOP"
	commandExit = "EXIT"

	stateRunning = "RUNNING"
	stateStopped = "STOPPED"
	stateExiting = "EXITING"

	flagDone = "DONE"
)

// startPollInterval/startPollTimeout bound how long Start waits for the
// daemon to observe COMMAND=RUN and publish STATE=RUNNING.
const (
	startPollInterval = 50 * time.Millisecond
	startPollTimeout  = 5 * time.Second
)

// Backend is the Daemon implementation. TransferFilePath is the single
// file the library and DaemonCopier rendezvous through.
type Backend struct {
	TransferFilePath string
	PollInterval     time.Duration
}

// New returns a daemonclient Backend bound to transferFilePath.
func New(transferFilePath string, pollInterval time.Duration) *Backend {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Backend{TransferFilePath: transferFilePath, PollInterval: pollInterval}
}

// Register binds b to model.Daemon in the package-level backend
// registry.
func Register(b *Backend) {
	backend.Register(model.Daemon, b)
}

// Start merges h's files into the ID subtree, sets COMMAND=RUN, clears
// FLAG, then bounded-polls for STATE=RUNNING.
func (b *Backend) Start(ctx context.Context, h *model.Handle) error {
	err := kvtree.Locked(b.TransferFilePath, func(t *kvtree.Tree) error {
		idRoot := t.ChildOrCreate(keyIDRoot)
		hNode := idRoot.ChildOrCreate(fmt.Sprintf("%d", h.ID))
		files := hNode.ChildOrCreate(keyFiles)
		h.RangeFiles(func(fe *model.FileEntry) {
			if fe.State == model.AtDestination {
				return
			}
			fe.State = model.InProgress
			fnode := files.ChildOrCreate(fe.Source)
			fnode.Set(keyDest, kvtree.StringValue(fe.Destination))
			fnode.Set(keySize, kvtree.ByteCountValue(fe.Size))
			if _, ok := fnode.Get(keyWritten); !ok {
				fnode.Set(keyWritten, kvtree.ByteCountValue(0))
			}
		})
		t.Set(keyCommand, kvtree.StringValue(commandRun))
		t.Unset(keyFlag)
		return nil
	})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(startPollTimeout)
	for time.Now().Before(deadline) {
		st, rerr := b.readState()
		if rerr == nil && st == stateRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startPollInterval):
		}
	}
	return fmt.Errorf("daemonclient: timed out waiting for daemon STATE=RUNNING")
}

func (b *Backend) readState() (string, error) {
	t, err := kvtree.ReadOnly(b.TransferFilePath)
	if err != nil {
		return "", err
	}
	v, _ := t.Get(keyState)
	return v.String, nil
}

// Test reads ID/<id>/FILES and folds progress back into h's entries,
// per spec.md §4.6's test semantics.
func (b *Backend) Test(ctx context.Context, h *model.Handle) (backend.Outcome, error) {
	t, err := kvtree.ReadOnly(b.TransferFilePath)
	if err != nil {
		return backend.CompletedError, err
	}
	idRoot, ok := t.Child(keyIDRoot)
	if !ok {
		return backend.CompletedSuccess, nil
	}
	hNode, ok := idRoot.Child(fmt.Sprintf("%d", h.ID))
	if !ok {
		return backend.CompletedSuccess, nil
	}
	files, ok := hNode.Child(keyFiles)
	if !ok {
		return backend.CompletedSuccess, nil
	}

	anyError, anyInProgress := false, false
	files.Range(func(source string, _ *kvtree.Value, fchild *kvtree.Tree) bool {
		fe, exists := h.Entries[source]
		if !exists || fchild == nil {
			return true
		}
		if v, ok := fchild.Get(keyWritten); ok {
			fe.BytesTransferred = v.ByteCount
		}
		if v, ok := fchild.Get(keyError); ok {
			fe.State = model.FileError
			fe.ErrorMessage = v.String
			anyError = true
			return true
		}
		size := fe.Size
		if v, ok := fchild.Get(keySize); ok {
			size = v.ByteCount
		}
		if fe.BytesTransferred >= size && size > 0 {
			fe.State = model.AtDestination
		} else {
			fe.State = model.InProgress
			anyInProgress = true
		}
		return true
	})

	switch {
	case anyError:
		return backend.CompletedError, nil
	case anyInProgress:
		return backend.InProgress, nil
	default:
		return backend.CompletedSuccess, nil
	}
}

// Wait polls Test at PollInterval until it reports a terminal Outcome,
// per spec.md §4.6's "poll test with a configurable interval".
func (b *Backend) Wait(ctx context.Context, h *model.Handle) error {
	for {
		outcome, err := b.Test(ctx, h)
		if err != nil {
			return err
		}
		if outcome != backend.InProgress {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.PollInterval):
		}
	}
}

// Cancel sets COMMAND=STOP, polls for STATE=STOPPED, then removes h's
// entries from the ID subtree. Partial destination bytes are left on
// disk per spec.md §4.6.
func (b *Backend) Cancel(ctx context.Context, h *model.Handle) error {
	err := kvtree.Locked(b.TransferFilePath, func(t *kvtree.Tree) error {
		t.Set(keyCommand, kvtree.StringValue(commandStop))
		return nil
	})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(startPollTimeout)
	for time.Now().Before(deadline) {
		st, rerr := b.readState()
		if rerr == nil && st == stateStopped {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startPollInterval):
		}
	}

	return kvtree.Locked(b.TransferFilePath, func(t *kvtree.Tree) error {
		idRoot := t.ChildOrCreate(keyIDRoot)
		idRoot.Unset(fmt.Sprintf("%d", h.ID))
		return nil
	})
}

// Resume re-merges h's (already-persisted) files into the transfer file
// and resumes the RUN command — the DaemonCopier picks up from WRITTEN,
// which is exactly Start's behavior for files already present.
func (b *Backend) Resume(ctx context.Context, h *model.Handle) error {
	return b.Start(ctx, h)
}

// Free is a no-op: Cancel (or natural completion) already removed h's
// entries from the transfer file; nothing is held in-process.
func (b *Backend) Free(ctx context.Context, h *model.Handle) error {
	return nil
}

// Finalize sets COMMAND=EXIT and polls for STATE=EXITING, per
// spec.md §4.6. Not part of the Backend interface (it's process-wide,
// not per-handle); it satisfies backend.Lifecycle, so the registry's
// Finalize reaches it through backend.FinalizeAll whenever the Daemon
// backend is registered.
func (b *Backend) Finalize(ctx context.Context) error {
	err := kvtree.Locked(b.TransferFilePath, func(t *kvtree.Tree) error {
		t.Set(keyCommand, kvtree.StringValue(commandExit))
		return nil
	})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(startPollTimeout)
	for time.Now().Before(deadline) {
		st, rerr := b.readState()
		if rerr == nil && st == stateExiting {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startPollInterval):
		}
	}
	return fmt.Errorf("daemonclient: timed out waiting for daemon STATE=EXITING")
}

// Init satisfies backend.Lifecycle; the daemon process itself is
// started out-of-band by the operator (cmd/atl-daemon), so there is
// nothing for the library side to do at Init.
func (b *Backend) Init(ctx context.Context) error { return nil }
