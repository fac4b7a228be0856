// Package daemoncopier implements the DaemonCopier: the single-process,
// single-threaded external loop that actually moves bytes for the
// Daemon transfer kind, driven entirely by the shared transfer file
// (internal/backend/daemonclient writes the other side of this
// protocol). Grounded on internal/fileio.CopyOneChunk for the one-chunk-
// per-iteration copy primitive and internal/kvtree.LockFile for the PID
// file guard, with the nine-step loop and throttling algorithm
// reproduced from spec.md §4.6.
package daemoncopier

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ecp-veloc/atl/internal/fileio"
	"github.com/ecp-veloc/atl/internal/kvtree"
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

	commandExit = "EXIT"
	commandStop = "STOP"

	stateRunning = "RUNNING"
	stateStopped = "STOPPED"
	stateExiting = "EXITING"

	flagDone = "DONE"
)

// Options configures one DaemonCopier run.
type Options struct {
	TransferFilePath string
	BufSize          int64
	PollInterval     time.Duration // upper bound on sleep between iterations
	Log              *logrus.Logger
}

// current identifies the (handle, source) pair the loop made progress
// on in the previous iteration, so step 5's descriptor cache can be
// reused instead of reopened every chunk.
type current struct {
	handleID string
	source   string
	srcFile  *os.File
	dstFile  *os.File
}

func (c *current) close() {
	if c == nil {
		return
	}
	if c.srcFile != nil {
		_ = c.srcFile.Close()
	}
	if c.dstFile != nil {
		_ = c.dstFile.Close()
	}
}

// throttleState is the running accumulator the algorithm in spec.md
// §4.6 needs across iterations: cumulative run/sleep time since the
// last RUNNING transition, and the timestamp of the last successful
// write.
type throttleState struct {
	runSecs     float64
	sleptSecs   float64
	lastWriteTS time.Time
	running     bool
}

// Run executes the DaemonCopier main loop until COMMAND=EXIT is
// observed; removing the PID file does not stop it. Run blocks for the lifetime of the daemon
// process; cmd/atl-daemon calls it directly from main.
func Run(opts Options) error {
	if opts.BufSize <= 0 {
		opts.BufSize = 1 << 20
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}

	pidPath := opts.TransferFilePath + ".pid"
	lock := kvtree.NewLockFile(pidPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("daemoncopier: acquire pid lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("daemoncopier: pid file %s already held, refusing to start", pidPath)
	}
	defer lock.Unlock()

	var cur *current
	defer cur.close()
	throttle := &throttleState{}

	for {
		snapshot, derivedState, err := loadSnapshot(opts.TransferFilePath)
		if err != nil {
			log.WithError(err).Error("daemoncopier: failed to read transfer file")
			time.Sleep(opts.PollInterval)
			continue
		}

		if snapshot.command == commandExit {
			publishState(opts.TransferFilePath, stateExiting)
			cur.close()
			cur = nil
			log.Info("daemoncopier: EXIT observed, shutting down")
			return nil
		}

		if derivedState != throttleRunning(throttle) {
			if derivedState {
				throttle.runSecs, throttle.sleptSecs = 0, 0
			}
			throttle.running = derivedState
		}

		if !derivedState {
			publishStateIfStale(opts.TransferFilePath, stateStopped)
			time.Sleep(opts.PollInterval)
			continue
		}
		publishStateIfStale(opts.TransferFilePath, stateRunning)

		sel := selectFile(snapshot, cur)
		if sel == nil {
			publishStateAndFlag(opts.TransferFilePath, stateStopped, flagDone)
			cur.close()
			cur = nil
			time.Sleep(opts.PollInterval)
			continue
		}

		if cur == nil || cur.handleID != sel.handleID || cur.source != sel.source {
			cur.close()
			nc, err := openPair(sel)
			if err != nil {
				recordError(opts.TransferFilePath, sel.handleID, sel.source, err.Error())
				cur = nil
				continue
			}
			cur = nc
		}

		start := time.Now()
		n, err := fileio.CopyOneChunk(cur.srcFile, cur.dstFile, sel.written, opts.BufSize, sel.size)
		if err != nil {
			recordError(opts.TransferFilePath, sel.handleID, sel.source, err.Error())
			cur.close()
			cur = nil
			continue
		}

		newWritten := sel.written + n
		if err := publishWritten(opts.TransferFilePath, sel.handleID, sel.source, newWritten); err != nil {
			log.WithError(err).Error("daemoncopier: failed to publish WRITTEN")
		}
		if newWritten >= sel.size {
			cur.close()
			cur = nil
		}

		throttle.runSecs += time.Since(start).Seconds()
		sleepFor := computeSleep(throttle, n, start, snapshot.bw, snapshot.percent, opts.PollInterval)
		if sleepFor > 0 {
			throttle.sleptSecs += sleepFor.Seconds()
			time.Sleep(sleepFor)
		}
	}
}

func throttleRunning(t *throttleState) bool { return t.running }

// fileSel names the (handle, source) the loop picked to make progress
// on in this iteration, with its current SIZE/WRITTEN/DESTINATION.
type fileSel struct {
	handleID    string
	source      string
	destination string
	size        int64
	written     int64
}

type snapshotView struct {
	command string
	state   string
	bw      float64
	percent float64
	handles map[string][]fileSel // handle ID -> files, in insertion order
}

func loadSnapshot(path string) (*snapshotView, bool, error) {
	t, err := kvtree.ReadOnly(path)
	if err != nil {
		return nil, false, err
	}
	sv := &snapshotView{handles: make(map[string][]fileSel)}
	if v, ok := t.Get(keyCommand); ok {
		sv.command = v.String
	}
	if v, ok := t.Get(keyState); ok {
		sv.state = v.String
	}
	if v, ok := t.Get(keyBW); ok {
		sv.bw = v.Double
	}
	if v, ok := t.Get(keyPercent); ok {
		sv.percent = v.Double
	}

	var handleIDs []string
	if idRoot, ok := t.Child(keyIDRoot); ok {
		handleIDs = idRoot.Keys()
		sort.Strings(handleIDs)
		for _, hid := range handleIDs {
			hNode, _ := idRoot.Child(hid)
			files, ok := hNode.Child(keyFiles)
			if !ok {
				continue
			}
			for _, src := range files.Keys() {
				fnode, _ := files.Child(src)
				sel := fileSel{handleID: hid, source: src}
				if v, ok := fnode.Get(keyDest); ok {
					sel.destination = v.String
				}
				if v, ok := fnode.Get(keySize); ok {
					sel.size = v.ByteCount
				}
				if v, ok := fnode.Get(keyWritten); ok {
					sel.written = v.ByteCount
				}
				if _, hasErr := fnode.Get(keyError); hasErr {
					continue
				}
				sv.handles[hid] = append(sv.handles[hid], sel)
			}
		}
	}

	derivedRunning := sv.command != commandStop && sv.command != commandExit
	return sv, derivedRunning, nil
}

// selectFile implements step 4: prefer the current pair if still
// eligible, else scan ascending handle ID / insertion-order file.
func selectFile(sv *snapshotView, cur *current) *fileSel {
	if cur != nil {
		for _, f := range sv.handles[cur.handleID] {
			if f.source == cur.source && f.written < f.size {
				sel := f
				return &sel
			}
		}
	}
	var ids []string
	for hid := range sv.handles {
		ids = append(ids, hid)
	}
	sort.Strings(ids)
	for _, hid := range ids {
		for _, f := range sv.handles[hid] {
			if f.written < f.size {
				sel := f
				return &sel
			}
		}
	}
	return nil
}

func openPair(sel *fileSel) (*current, error) {
	src, err := os.OpenFile(sel.source, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	dst, err := os.OpenFile(sel.destination, os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return &current{handleID: sel.handleID, source: sel.source, srcFile: src, dstFile: dst}, nil
}

func publishState(path, state string) {
	_ = kvtree.Locked(path, func(t *kvtree.Tree) error {
		t.Set(keyState, kvtree.StringValue(state))
		return nil
	})
}

func publishStateIfStale(path, state string) {
	t, err := kvtree.ReadOnly(path)
	if err == nil {
		if v, ok := t.Get(keyState); ok && v.String == state {
			return
		}
	}
	publishState(path, state)
}

func publishStateAndFlag(path, state, flag string) {
	_ = kvtree.Locked(path, func(t *kvtree.Tree) error {
		t.Set(keyState, kvtree.StringValue(state))
		t.Set(keyFlag, kvtree.StringValue(flag))
		return nil
	})
}

func publishWritten(path, handleID, source string, written int64) error {
	return kvtree.Locked(path, func(t *kvtree.Tree) error {
		idRoot := t.ChildOrCreate(keyIDRoot)
		hNode, ok := idRoot.Child(handleID)
		if !ok {
			return nil
		}
		files, ok := hNode.Child(keyFiles)
		if !ok {
			return nil
		}
		fnode, ok := files.Child(source)
		if !ok {
			return nil
		}
		fnode.Set(keyWritten, kvtree.ByteCountValue(written))
		return nil
	})
}

func recordError(path, handleID, source, msg string) {
	_ = kvtree.Locked(path, func(t *kvtree.Tree) error {
		idRoot := t.ChildOrCreate(keyIDRoot)
		hNode, ok := idRoot.Child(handleID)
		if !ok {
			return nil
		}
		files, ok := hNode.Child(keyFiles)
		if !ok {
			return nil
		}
		fnode, ok := files.Child(source)
		if !ok {
			return nil
		}
		fnode.Set(keyError, kvtree.StringValue(msg))
		t.Set(keyState, kvtree.StringValue(stateStopped))
		t.Set(keyFlag, kvtree.StringValue(flagDone))
		return nil
	})
}

// computeSleep implements the throttling algorithm from spec.md §4.6.
// t.lastWriteTS holds the timestamp at the start of the *previous*
// successful write; elapsed is (now - last_write_ts) per the spec
// formula, after which lastWriteTS advances to this write's start.
func computeSleep(t *throttleState, nread int64, writeStart time.Time, bw, percent float64, pollInterval time.Duration) time.Duration {
	now := time.Now()
	elapsed := 0.0
	if !t.lastWriteTS.IsZero() {
		elapsed = now.Sub(t.lastWriteTS).Seconds()
	}
	t.lastWriteTS = writeStart

	bwSleep := 0.0
	if bw > 0 {
		bwSleep = (float64(nread) / bw) - elapsed
	}
	dutySleep := 0.0
	if percent > 0 {
		dutySleep = (t.runSecs / (percent / 100)) - (t.runSecs + t.sleptSecs)
	}
	target := bwSleep
	if dutySleep > target {
		target = dutySleep
	}
	if target < 0 {
		target = 0
	}
	maxSleep := pollInterval.Seconds()
	if target > maxSleep {
		target = maxSleep
	}
	return time.Duration(target * float64(time.Second))
}
