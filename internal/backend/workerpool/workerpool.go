// Package workerpool implements the WorkerPool transfer kind:
// min(NumCPU, MaxWorkers, file_count) goroutines pulling from a shared
// FIFO queue of file entries, each copying with internal/fileio.Copy.
// Cancellation sets a per-handle atomic flag, checked before each file
// is started, and cancels the copy context, which fileio.Copy checks
// between chunks.
//
// Grounded on the cloud-ingest copy-task worker pattern retrieved
// alongside the teacher (a bounded semaphore gating concurrent copy
// goroutines) and on backend/cache's mutex-protected shared state for
// the queue itself — pop under lock, copy outside it, so one slow file
// never blocks the others from being claimed.
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ecp-veloc/atl/internal/backend"
	"github.com/ecp-veloc/atl/internal/config"
	"github.com/ecp-veloc/atl/internal/fileio"
	"github.com/ecp-veloc/atl/internal/model"
)

func numCPU() int { return runtime.NumCPU() }

// MaxWorkers caps pool size regardless of NumCPU, per SPEC_FULL.md §4.5.
const MaxWorkers = 16

type jobState struct {
	mu        sync.Mutex
	queue     []*model.FileEntry
	wg        sync.WaitGroup
	cancelled atomic.Bool
	cancelFn  context.CancelFunc
	cfg       *config.Config
}

// Backend is the WorkerPool implementation. One jobState is kept per
// in-flight handle, keyed by handle ID.
type Backend struct {
	cfg *config.Config
	log *logrus.Logger

	mu   sync.Mutex
	jobs map[int64]*jobState
}

// New returns a WorkerPool Backend.
func New(cfg *config.Config, log *logrus.Logger) *Backend {
	return &Backend{cfg: cfg, log: log, jobs: make(map[int64]*jobState)}
}

// Register binds b to model.WorkerPool in the package-level backend
// registry.
func Register(b *Backend) {
	backend.Register(model.WorkerPool, b)
}

func poolSize(fileCount int) int {
	n := MaxWorkers
	if cpus := numCPU(); cpus < n {
		n = cpus
	}
	if fileCount < n {
		n = fileCount
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Start enqueues every file entry and launches poolSize(len(files))
// worker goroutines against it, returning immediately — Test/Wait poll
// job.wg for completion.
func (b *Backend) Start(ctx context.Context, h *model.Handle) error {
	queue := make([]*model.FileEntry, 0, len(h.Sources))
	h.RangeFiles(func(fe *model.FileEntry) {
		if fe.State != model.AtDestination {
			fe.State = model.InProgress
			queue = append(queue, fe)
		}
	})

	// copyCtx is cancelled the moment Cancel fires, so an in-flight
	// fileio.Copy aborts at its next chunk boundary instead of running
	// to completion on the original, uncancellable Dispatch context.
	copyCtx, cancel := context.WithCancel(ctx)
	job := &jobState{queue: queue, cfg: b.cfg, cancelFn: cancel}
	b.mu.Lock()
	b.jobs[h.ID] = job
	b.mu.Unlock()

	workers := poolSize(len(queue))
	job.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go job.worker(copyCtx, b.log, h.ID)
	}
	return nil
}

func (j *jobState) worker(ctx context.Context, log *logrus.Logger, handleID int64) {
	defer j.wg.Done()
	for {
		fe := j.pop()
		if fe == nil {
			return
		}
		if j.cancelled.Load() {
			fe.State = model.FileError
			fe.ErrorMessage = "cancelled"
			continue
		}
		if j.cfg.Mkdir {
			if err := fileio.MkdirAllForFile(fe.Destination); err != nil {
				fe.State = model.FileError
				fe.ErrorMessage = err.Error()
				continue
			}
		}
		res, err := fileio.Copy(ctx, fe.Source, fe.Destination, j.cfg.FileBufSize, 0, func(written int64) {
			fe.BytesTransferred = written
		})
		if err != nil {
			fe.State = model.FileError
			if j.cancelled.Load() {
				fe.ErrorMessage = "cancelled"
			} else {
				fe.ErrorMessage = err.Error()
				if log != nil {
					log.WithField("handle", handleID).WithField("source", fe.Source).WithError(err).Warn("worker copy failed")
				}
			}
			continue
		}
		fe.Size = res.BytesWritten
		if j.cfg.CRCOnCopy != "off" {
			if sum, cerr := fileio.CRC32File(fe.Destination, j.cfg.FileBufSize); cerr == nil {
				fe.CRC32 = sum
				fe.HasCRC32 = true
			}
		}
		if j.cfg.CopyMetadata {
			if meta, merr := fileio.Capture(fe.Source); merr == nil {
				fileio.Apply(fe.Destination, meta)
				fe.Metadata = fileio.ToModelMetadata(meta)
			}
		}
		fe.State = model.AtDestination
	}
}

func (j *jobState) pop() *model.FileEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.queue) == 0 {
		return nil
	}
	fe := j.queue[0]
	j.queue = j.queue[1:]
	return fe
}

func (b *Backend) job(id int64) (*jobState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	return j, ok
}

// Test reports whether every worker has finished.
func (b *Backend) Test(ctx context.Context, h *model.Handle) (backend.Outcome, error) {
	job, ok := b.job(h.ID)
	if !ok {
		return backend.CompletedSuccess, nil
	}
	if !allDone(job) {
		return backend.InProgress, nil
	}
	if h.AnyError() {
		return backend.CompletedError, nil
	}
	return backend.CompletedSuccess, nil
}

func allDone(job *jobState) bool {
	done := make(chan struct{})
	go func() {
		job.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Wait blocks until every worker for h's job has returned.
func (b *Backend) Wait(ctx context.Context, h *model.Handle) error {
	job, ok := b.job(h.ID)
	if !ok {
		return nil
	}
	waitDone := make(chan struct{})
	go func() {
		job.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel sets the cooperative cancellation flag and cancels the job's
// copy context: a chunk already in flight finishes, but fileio.Copy
// returns at its next chunk boundary instead of running to completion,
// no further file is started, and queued files are marked FileError.
func (b *Backend) Cancel(ctx context.Context, h *model.Handle) error {
	job, ok := b.job(h.ID)
	if !ok {
		return nil
	}
	job.cancelled.Store(true)
	job.cancelFn()
	return nil
}

// Resume is unsupported: the worker pool's queue is purely in-memory
// and does not survive a process restart.
func (b *Backend) Resume(ctx context.Context, h *model.Handle) error {
	return backend.ErrResumeUnsupported
}

// Free drops the job state for h, releasing its copy context.
func (b *Backend) Free(ctx context.Context, h *model.Handle) error {
	b.mu.Lock()
	job, ok := b.jobs[h.ID]
	delete(b.jobs, h.ID)
	b.mu.Unlock()
	if ok {
		job.cancelFn()
	}
	return nil
}
