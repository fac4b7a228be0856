// Package atl is the public facade of the Asynchronous Transfer Library:
// a non-blocking file-set transfer engine for HPC checkpoint/restart
// workflows. A Library is the replacement for the original C API's
// process-global mutable state (SPEC_FULL.md §9's redesign note): every
// operation (Create/Add/Dispatch/Test/Wait/Cancel/Stop/Free/Resume/
// Config) is a method on a *Library instance, so a process can host more
// than one independently configured library context.
package atl

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ecp-veloc/atl/internal/atllog"
	"github.com/ecp-veloc/atl/internal/backend/daemonclient"
	"github.com/ecp-veloc/atl/internal/backend/syncbackend"
	"github.com/ecp-veloc/atl/internal/backend/vendorshim"
	"github.com/ecp-veloc/atl/internal/backend/workerpool"
	"github.com/ecp-veloc/atl/internal/config"
	"github.com/ecp-veloc/atl/internal/model"
	"github.com/ecp-veloc/atl/internal/registry"
	"github.com/ecp-veloc/atl/internal/state"
	"github.com/ecp-veloc/atl/internal/vendor/vendora"
	"github.com/ecp-veloc/atl/internal/vendor/vendorb"
	"github.com/ecp-veloc/atl/internal/vendor/vendorc"
)

// TransferKind re-exports internal/model's kind enum for callers that
// need to name a backend at Create time without importing internal/
// packages directly.
type TransferKind = model.TransferKind

// Recognized transfer kinds.
const (
	Sync       = model.Sync
	WorkerPool = model.WorkerPool
	Daemon     = model.Daemon
	VendorA    = model.VendorA
	VendorB    = model.VendorB
	VendorC    = model.VendorC
)

// HandleState re-exports internal/model's lifecycle state enum.
type HandleState = model.HandleState

// TestOutcome is the tri-state Test/Wait result the public API returns,
// per SPEC_FULL.md §6 (`complete_ok`, `in_progress`, `complete_err`).
type TestOutcome int

// Recognized TestOutcome values.
const (
	InProgress TestOutcome = iota
	CompleteOK
	CompleteErr
)

// Options configures a new Library at Init time.
type Options struct {
	// ConfigPath is an optional YAML config file, per SPEC_FULL.md §6.
	ConfigPath string
	// DefaultStateFilePath snapshots every handle created without an
	// explicit per-call state file.
	DefaultStateFilePath string
	// TransferFilePath enables the Daemon backend when non-empty.
	TransferFilePath string
	// DaemonPollInterval overrides the Daemon backend's test/wait poll
	// interval; defaults to 1s if zero.
	DaemonPollInterval time.Duration
}

// Library is one configured instance of the transfer engine.
type Library struct {
	cfg *config.Config
	log *logrus.Logger
	reg *registry.Registry
}

// Init constructs a Library: it loads config (default < file < env,
// explicit Config() calls take final precedence), builds the logger,
// registers every compiled-in backend, and starts their process-wide
// setup. Per SPEC_FULL.md §4.8, if DefaultStateFilePath already holds
// persisted handles, they are reloaded; any found in the Dispatched
// state stay Dispatched until Resume re-binds them to their backend.
// Test and Wait do not check that Resume was called first.
func Init(ctx context.Context, opts Options) (*Library, error) {
	cfg := config.Default()
	if err := cfg.LoadFile(opts.ConfigPath); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	log := atllog.New(cfg.Debug)
	persist := state.New(opts.DefaultStateFilePath)
	reg := registry.New(log, persist)

	syncbackend.Register(syncbackend.New(cfg, log))
	workerpool.Register(workerpool.New(cfg, log))
	vendorshim.Register(model.VendorA, vendorshim.New(vendora.New()))
	vendorshim.Register(model.VendorB, vendorshim.New(vendorb.New()))
	vendorshim.Register(model.VendorC, vendorshim.New(vendorc.New()))
	if opts.TransferFilePath != "" {
		daemonclient.Register(daemonclient.New(opts.TransferFilePath, opts.DaemonPollInterval))
	}

	if err := reg.Init(ctx); err != nil {
		return nil, err
	}

	lib := &Library{cfg: cfg, log: log, reg: reg}

	if opts.DefaultStateFilePath != "" {
		if err := lib.reloadPersisted(opts.DefaultStateFilePath); err != nil {
			log.WithError(err).Warn("atl: failed to reload persisted state file")
		}
	}
	return lib, nil
}

func (l *Library) reloadPersisted(path string) error {
	handles, err := state.Load(path)
	if err != nil {
		return err
	}
	l.reg.Restore(handles)
	for _, h := range handles {
		l.log.WithField("handle", h.ID).WithField("state", h.State.String()).
			Info("atl: reloaded persisted handle; dispatched handles require Resume")
	}
	return nil
}

// Finalize tears down every compiled-in backend.
func (l *Library) Finalize(ctx context.Context) error {
	return l.reg.Finalize(ctx)
}

// Create allocates a new handle for kind, owned by userName. stateFilePath
// overrides the Library's default snapshot target for this handle only;
// pass "" to use the default.
func (l *Library) Create(kind TransferKind, userName, stateFilePath string) (int64, error) {
	h, err := l.reg.Create(kind, userName, stateFilePath)
	if err != nil {
		return 0, err
	}
	return h.ID, nil
}

// Add records a source/destination pair on a handle still in the
// Created state.
func (l *Library) Add(id int64, source, destination string) error {
	return l.reg.Add(id, source, destination)
}

// Dispatch transitions a handle to Dispatched and starts its backend.
func (l *Library) Dispatch(ctx context.Context, id int64) error {
	return l.reg.Dispatch(ctx, id)
}

// Test is a non-blocking progress check.
func (l *Library) Test(ctx context.Context, id int64) (TestOutcome, error) {
	st, err := l.reg.Test(ctx, id)
	if err != nil {
		return InProgress, err
	}
	return outcomeOf(st), nil
}

// Wait blocks until the handle reaches a terminal state.
func (l *Library) Wait(ctx context.Context, id int64) error {
	return l.reg.Wait(ctx, id)
}

// Cancel requests early termination of an in-flight handle.
func (l *Library) Cancel(ctx context.Context, id int64) error {
	return l.reg.Cancel(ctx, id)
}

// Stop cancels every non-terminal handle, for process shutdown.
func (l *Library) Stop(ctx context.Context) error {
	return l.reg.Stop(ctx)
}

// Free releases backend resources for a terminal handle.
func (l *Library) Free(ctx context.Context, id int64) error {
	return l.reg.Free(ctx, id)
}

// Resume re-binds a handle id to its backend after a restart. id must
// name a handle reloaded at Init from the Library's default state file
// and must currently be Dispatched, per SPEC_FULL.md §4.2 / §6
// (`resume | handle_id | ok | bad id, unsupported backend`).
func (l *Library) Resume(ctx context.Context, id int64) error {
	return l.reg.Resume(ctx, id)
}

// Config applies explicit option overrides, returning the prior mapping.
func (l *Library) Config(opts map[string]string) (previous map[string]string, err error) {
	return l.cfg.Set(opts)
}

func outcomeOf(st model.HandleState) TestOutcome {
	switch st {
	case model.Completed:
		return CompleteOK
	case model.Error, model.Cancelled:
		return CompleteErr
	default:
		return InProgress
	}
}
