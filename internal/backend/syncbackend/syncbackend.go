// Package syncbackend implements the Sync transfer kind: Start copies
// every file in the handle, one at a time, to completion before
// returning. Test/Wait on a Sync handle therefore never observe
// InProgress — Start already drove the handle to its terminal state.
// Grounded on backend/local's Object.Update, adapted from copying one
// rclone Object to copying the FileEntry list of an ATL handle with
// internal/fileio.Copy as the chunked primitive.
package syncbackend

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ecp-veloc/atl/internal/backend"
	"github.com/ecp-veloc/atl/internal/config"
	"github.com/ecp-veloc/atl/internal/fileio"
	"github.com/ecp-veloc/atl/internal/model"
)

// Backend is the Sync implementation. It holds a reference to the
// shared Config so FileBufSize/Mkdir/CopyMetadata/CRCOnCopy settings
// apply uniformly across handles dispatched through it.
type Backend struct {
	cfg *config.Config
	log *logrus.Logger
}

// New returns a Sync Backend. Call Register to wire it into the
// package-level dispatch table.
func New(cfg *config.Config, log *logrus.Logger) *Backend {
	return &Backend{cfg: cfg, log: log}
}

// Register binds b to model.Sync in the package-level backend registry.
func Register(b *Backend) {
	backend.Register(model.Sync, b)
}

// Start synchronously copies every file entry, updating each entry's
// State/BytesTransferred/CRC32 as it goes. It returns only once every
// file has reached AtDestination or FileError — callers should expect
// Start itself to block for the whole transfer's duration.
func (b *Backend) Start(ctx context.Context, h *model.Handle) error {
	h.RangeFiles(func(fe *model.FileEntry) {
		if fe.State == model.AtDestination {
			return
		}
		fe.State = model.InProgress
		if b.cfg.Mkdir {
			if err := fileio.MkdirAllForFile(fe.Destination); err != nil {
				fe.State = model.FileError
				fe.ErrorMessage = err.Error()
				return
			}
		}

		res, err := fileio.Copy(ctx, fe.Source, fe.Destination, b.cfg.FileBufSize, 0, func(written int64) {
			fe.BytesTransferred = written
		})
		if err != nil {
			fe.State = model.FileError
			fe.ErrorMessage = err.Error()
			return
		}
		fe.Size = res.BytesWritten

		if b.cfg.CRCOnCopy != "off" {
			sum, cerr := fileio.CRC32File(fe.Destination, b.cfg.FileBufSize)
			if cerr != nil {
				fe.State = model.FileError
				fe.ErrorMessage = cerr.Error()
				return
			}
			fe.CRC32 = sum
			fe.HasCRC32 = true
		}

		if b.cfg.CopyMetadata {
			if meta, merr := fileio.Capture(fe.Source); merr == nil {
				fileio.Apply(fe.Destination, meta)
				fe.Metadata = fileio.ToModelMetadata(meta)
			}
		}
		fe.State = model.AtDestination
	})
	return nil
}

// Test reports the (already terminal) outcome of a Sync handle.
func (b *Backend) Test(ctx context.Context, h *model.Handle) (backend.Outcome, error) {
	if h.AnyError() {
		return backend.CompletedError, nil
	}
	return backend.CompletedSuccess, nil
}

// Wait is a no-op: Start already ran to completion.
func (b *Backend) Wait(ctx context.Context, h *model.Handle) error {
	return nil
}

// Cancel has no effect on a Sync handle: Start is synchronous and
// already returned by the time Cancel could be called.
func (b *Backend) Cancel(ctx context.Context, h *model.Handle) error {
	return nil
}

// Resume is unsupported: a Sync transfer has no in-flight state to
// rebind to, since Start always runs to completion before returning.
func (b *Backend) Resume(ctx context.Context, h *model.Handle) error {
	return backend.ErrResumeUnsupported
}

// Free releases nothing: Sync holds no backend-side resources.
func (b *Backend) Free(ctx context.Context, h *model.Handle) error {
	return nil
}
