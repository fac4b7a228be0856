// Package state implements StatePersistence: snapshotting a Handle's
// current state into the ordered KV tree on every transition and
// reloading it for Resume, per SPEC_FULL.md §6's persisted schema
// (HANDLE/<id>/{UID,UNAME,XFER_KIND,XFER_KIND_STR,STATE,FILES/...}).
// Grounded on backend/cache's storage_persistent.go, which snapshots an
// in-memory directory cache into a bbolt-backed file on every mutation;
// here the mutation source is handle-state transitions instead of
// directory listings, and the backing tree is internal/kvtree rather
// than bare bbolt.
package state

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/ecp-veloc/atl/internal/kvtree"
	"github.com/ecp-veloc/atl/internal/model"
)

const (
	keyUID          = "UID"
	keyUName        = "UNAME"
	keyXferKind     = "XFER_KIND"
	keyXferKindStr  = "XFER_KIND_STR"
	keyState        = "STATE"
	keyFiles        = "FILES"
	keySource       = "SOURCE"
	keyDest         = "DEST"
	keyFileState    = "STATE"
	keyBytesXferred = "BYTES_TRANSFERRED"
	keySize         = "SIZE"
	keyCRC32        = "CRC32"
	keyErrorMsg     = "ERROR_MSG"
	keyMeta         = "META"
	keyMetaMode     = "MODE"
	keyMetaUID      = "UID"
	keyMetaGID      = "GID"
	keyMetaMtimeSecs = "MTIME_SECS"
	handlesBucket   = "HANDLE"
)

// Persistence snapshots and reloads handles against one state file path.
type Persistence struct {
	mu          sync.Mutex
	defaultPath string
}

// New returns a Persistence that snapshots to defaultPath when a
// Handle's own StateFilePath is empty (library-level default, per
// SPEC_FULL.md §6: "-S state_file" is optional per call").
func New(defaultPath string) *Persistence {
	return &Persistence{defaultPath: defaultPath}
}

func (p *Persistence) pathFor(h *model.Handle) string {
	if h.StateFilePath != "" {
		return h.StateFilePath
	}
	return p.defaultPath
}

// Snapshot writes h's current state into its state file, replacing any
// prior snapshot for the same handle ID.
func (p *Persistence) Snapshot(h *model.Handle) error {
	path := p.pathFor(h)
	if path == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return kvtree.Locked(path, func(t *kvtree.Tree) error {
		handles := t.ChildOrCreate(handlesBucket)
		node := handles.ChildOrCreate(strconv.FormatInt(h.ID, 10))
		encodeHandle(node, h)
		return nil
	})
}

// Remove drops id's snapshot from the default state file. Per-call
// state files (h.StateFilePath set explicitly) are left untouched: they
// are the caller's own record of a finished transfer.
func (p *Persistence) Remove(id int64) {
	if p.defaultPath == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = kvtree.Locked(p.defaultPath, func(t *kvtree.Tree) error {
		handles := t.ChildOrCreate(handlesBucket)
		handles.Unset(strconv.FormatInt(id, 10))
		return nil
	})
}

// Load reconstructs every handle found in the state file at path. Used
// by Library at Init to repopulate the registry's handle map after a
// restart, and by ByStateFile to enumerate the IDs within it.
func Load(path string) ([]*model.Handle, error) {
	t, err := kvtree.ReadOnly(path)
	if err != nil {
		return nil, err
	}
	handles, ok := t.Child(handlesBucket)
	if !ok {
		return nil, nil
	}
	var out []*model.Handle
	handles.RangeSorted(func(idStr string, leaf *kvtree.Value, child *kvtree.Tree) bool {
		if child == nil {
			return true
		}
		h, err := decodeHandle(idStr, child)
		if err == nil {
			out = append(out, h)
		}
		return true
	})
	return out, nil
}

// ByStateFile is the supplemented flush-map feature (SPEC_FULL.md §6):
// given a state file written by one or more library instances sharing
// it, return every handle ID recorded in it, sorted ascending. This
// lets an operator tool enumerate what a crashed job had in flight
// without knowing IDs in advance.
func ByStateFile(path string) ([]int64, error) {
	handles, err := Load(path)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func encodeHandle(node *kvtree.Tree, h *model.Handle) {
	node.Set(keyUID, kvtree.IntValue(h.ID))
	node.Set(keyUName, kvtree.StringValue(h.UserName))
	node.Set(keyXferKind, kvtree.IntValue(int64(h.Kind)))
	node.Set(keyXferKindStr, kvtree.StringValue(h.Kind.String()))
	node.Set(keyState, kvtree.StringValue(h.State.String()))

	files := node.ChildOrCreate(keyFiles)
	h.RangeFiles(func(fe *model.FileEntry) {
		fnode := files.ChildOrCreate(fe.Source)
		fnode.Set(keySource, kvtree.StringValue(fe.Source))
		fnode.Set(keyDest, kvtree.StringValue(fe.Destination))
		fnode.Set(keyFileState, kvtree.StringValue(fe.State.String()))
		fnode.Set(keyBytesXferred, kvtree.IntValue(fe.BytesTransferred))
		fnode.Set(keySize, kvtree.IntValue(fe.Size))
		if fe.HasCRC32 {
			fnode.Set(keyCRC32, kvtree.CRC32Value(fe.CRC32))
		}
		if fe.ErrorMessage != "" {
			fnode.Set(keyErrorMsg, kvtree.StringValue(fe.ErrorMessage))
		}
		if fe.Metadata != nil {
			meta := fnode.ChildOrCreate(keyMeta)
			meta.Set(keyMetaMode, kvtree.UintValue(uint64(fe.Metadata.Mode)))
			meta.Set(keyMetaUID, kvtree.UintValue(uint64(fe.Metadata.UID)))
			meta.Set(keyMetaGID, kvtree.UintValue(uint64(fe.Metadata.GID)))
			meta.Set(keyMetaMtimeSecs, kvtree.IntValue(fe.Metadata.MtimeSecs))
		}
	})
}

func decodeHandle(idStr string, node *kvtree.Tree) (*model.Handle, error) {
	var id int64
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
		return nil, err
	}

	uname, _ := node.Get(keyUName)
	kindStr, _ := node.Get(keyXferKindStr)
	stateStr, _ := node.Get(keyState)

	kind, _ := model.ParseTransferKind(kindStr.String)
	h := model.NewHandle(id, kind, uname.String, "")
	h.State = parseHandleState(stateStr.String)

	if files, ok := node.Child(keyFiles); ok {
		files.RangeSorted(func(_ string, _ *kvtree.Value, fchild *kvtree.Tree) bool {
			if fchild == nil {
				return true
			}
			src, _ := fchild.Get(keySource)
			dst, _ := fchild.Get(keyDest)
			h.AddFile(src.String, dst.String)
			fe := h.Entries[src.String]

			fstateStr, _ := fchild.Get(keyFileState)
			fe.State = parseFileState(fstateStr.String)

			if v, ok := fchild.Get(keyBytesXferred); ok {
				fe.BytesTransferred = v.Int
			}
			if v, ok := fchild.Get(keySize); ok {
				fe.Size = v.Int
			}
			if v, ok := fchild.Get(keyCRC32); ok {
				fe.CRC32 = v.CRC32
				fe.HasCRC32 = true
			}
			if v, ok := fchild.Get(keyErrorMsg); ok {
				fe.ErrorMessage = v.String
			}
			if meta, ok := fchild.Child(keyMeta); ok {
				m := &model.Metadata{}
				if v, ok := meta.Get(keyMetaMode); ok {
					m.Mode = uint32(v.Uint)
				}
				if v, ok := meta.Get(keyMetaUID); ok {
					m.UID = uint32(v.Uint)
				}
				if v, ok := meta.Get(keyMetaGID); ok {
					m.GID = uint32(v.Uint)
				}
				if v, ok := meta.Get(keyMetaMtimeSecs); ok {
					m.MtimeSecs = v.Int
				}
				fe.Metadata = m
			}
			return true
		})
	}
	return h, nil
}

func parseHandleState(s string) model.HandleState {
	for st := model.Created; st <= model.Cancelled; st++ {
		if st.String() == s {
			return st
		}
	}
	return model.Created
}

func parseFileState(s string) model.FileState {
	for st := model.AtSource; st <= model.FileError; st++ {
		if st.String() == s {
			return st
		}
	}
	return model.AtSource
}
