// Package vendorshim adapts any internal/vendor.Engine into the uniform
// backend.Backend contract, per SPEC_FULL.md §4.7's engine-state →
// backend-result mapping table. One shim instance wraps one Engine; the
// three vendor kinds (VendorA/B/C) each get their own shim instance
// registered under their own model.TransferKind, so swapping or adding
// a fourth vendor engine never touches this file.
package vendorshim

import (
	"context"
	"errors"
	"sync"

	"github.com/ecp-veloc/atl/internal/backend"
	"github.com/ecp-veloc/atl/internal/model"
	"github.com/ecp-veloc/atl/internal/vendor"
)

// Backend wraps one vendor.Engine.
type Backend struct {
	engine vendor.Engine

	mu    sync.Mutex
	defID map[int64]string
}

// New returns a Backend driving engine.
func New(engine vendor.Engine) *Backend {
	return &Backend{engine: engine, defID: make(map[int64]string)}
}

// Register binds b to kind in the package-level backend registry.
func Register(kind model.TransferKind, b *Backend) {
	backend.Register(kind, b)
}

// Start creates a vendor transfer definition, adds every file entry to
// it, and starts it.
func (b *Backend) Start(ctx context.Context, h *model.Handle) error {
	defID, err := b.engine.CreateDef()
	if err != nil {
		return err
	}
	var addErr error
	h.RangeFiles(func(fe *model.FileEntry) {
		if addErr != nil || fe.State == model.AtDestination {
			return
		}
		fe.State = model.InProgress
		if err := b.engine.AddFile(defID, fe.Source, fe.Destination, fe.Size); err != nil {
			addErr = err
		}
	})
	if addErr != nil {
		return addErr
	}

	b.mu.Lock()
	b.defID[h.ID] = defID
	b.mu.Unlock()

	return b.engine.Start(defID)
}

func (b *Backend) def(id int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.defID[id]
	return d, ok
}

// Test polls GetInfo once and maps it onto Outcome, folding file-level
// progress back into h's FileEntry list.
func (b *Backend) Test(ctx context.Context, h *model.Handle) (backend.Outcome, error) {
	defID, ok := b.def(h.ID)
	if !ok {
		return backend.CompletedSuccess, nil
	}
	info, err := b.engine.GetInfo(defID)
	if err != nil {
		if errors.Is(err, vendor.ErrDefNotFound) {
			// per spec.md §4.7: not-found maps to completed_error, but
			// with a nil error so the registry actually transitions the
			// handle out of Dispatched instead of re-surfacing a
			// BackendFailure on every subsequent Test/Wait.
			return backend.CompletedError, nil
		}
		return backend.CompletedError, err
	}
	applyInfo(h, info)

	switch info.State {
	case vendor.StateDone:
		return backend.CompletedSuccess, nil
	case vendor.StateFailed, vendor.StateCancelled:
		return backend.CompletedError, nil
	default:
		return backend.InProgress, nil
	}
}

// Wait polls Test until it reports a terminal Outcome: vendor.Engine
// offers no blocking call, only the GetInfo snapshot.
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
		default:
		}
	}
}

// Cancel requests the vendor engine cancel defID's transfer. A
// not-found engine result is treated as success, per spec.md §4.7: the
// session completed (or was already torn down) concurrently, so
// there's nothing left to cancel.
func (b *Backend) Cancel(ctx context.Context, h *model.Handle) error {
	defID, ok := b.def(h.ID)
	if !ok {
		return nil
	}
	if err := b.engine.Cancel(defID); err != nil && !errors.Is(err, vendor.ErrDefNotFound) {
		return err
	}
	return nil
}

// Resume is unsupported: a vendor definition ID is only known in
// memory, and the simulated engines (like most vendor SDKs) don't offer
// a lookup-by-external-key call to recover it after a restart.
func (b *Backend) Resume(ctx context.Context, h *model.Handle) error {
	return backend.ErrResumeUnsupported
}

// Free deletes the vendor definition and drops its bookkeeping.
func (b *Backend) Free(ctx context.Context, h *model.Handle) error {
	defID, ok := b.def(h.ID)
	if !ok {
		return nil
	}
	b.mu.Lock()
	delete(b.defID, h.ID)
	b.mu.Unlock()
	return b.engine.Delete(defID)
}

func applyInfo(h *model.Handle, info vendor.Info) {
	for _, fp := range info.Files {
		fe, ok := h.Entries[fp.Source]
		if !ok {
			continue
		}
		fe.BytesTransferred = fp.BytesTransferred
		if fp.Failed {
			fe.State = model.FileError
			fe.ErrorMessage = fp.ErrorMessage
			continue
		}
		if fp.Size > 0 && fp.BytesTransferred >= fp.Size {
			fe.State = model.AtDestination
			fe.Size = fp.Size
		}
	}
}
