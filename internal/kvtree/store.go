package kvtree

import (
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// rootBucket is the single bucket each store file uses to hold one
// packed Tree. Using bbolt here (rather than hand-rolling a flock+
// temp-file-rename dance) gives the "acquire exclusive lock on path"
// step of the contract for free: bolt.Open blocks (up to Timeout) on an
// OS file lock against the db file, exactly the semantics
// SPEC_FULL.md §4.1 asks for, grounded on the same technique
// backend/cache/storage_persistent.go uses for its persistent cache
// metadata store.
const rootBucket = "tree"

// lockWaitDefault bounds how long Locked waits to acquire the file lock
// before giving up; callers needing a different bound should keep their
// own file open for the duration instead of calling Locked per-op.
const lockWaitDefault = 30 * time.Second

// Locked performs one read-modify-write cycle against the Tree persisted
// at path: it acquires an exclusive lock on the file, loads the current
// contents into a Tree (empty if the file doesn't exist yet), invokes
// mutate, and — unless mutate returns an error — writes the (possibly
// changed) tree back before releasing the lock. This is the single
// primitive every persistence path in the library (StatePersistence, the
// DaemonBackend, the DaemonCopier) is built on.
func Locked(path string, mutate func(t *Tree) error) error {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: lockWaitDefault})
	if err != nil {
		return errors.Wrapf(err, "kvtree: lock %s", path)
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		if err != nil {
			return errors.Wrap(err, "kvtree: create bucket")
		}
		t, err := Unpack(b.Get([]byte(rootBucket)))
		if err != nil {
			return errors.Wrap(err, "kvtree: unpack")
		}
		if err := mutate(t); err != nil {
			return err
		}
		packed, err := t.Pack()
		if err != nil {
			return errors.Wrap(err, "kvtree: pack")
		}
		return b.Put([]byte(rootBucket), packed)
	})
}

// ReadOnly loads the Tree persisted at path inside a read-only View
// transaction and writes nothing back. The db itself is opened
// read-write, which takes bolt's exclusive file lock (so it and
// concurrent Locked calls against the same path wait for each other)
// and creates the file if it doesn't exist, in which case an empty Tree
// is returned.
func ReadOnly(path string) (*Tree, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: lockWaitDefault, ReadOnly: false})
	if err != nil {
		return nil, errors.Wrapf(err, "kvtree: open %s", path)
	}
	defer db.Close()

	var t *Tree
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket))
		if b == nil {
			t = New()
			return nil
		}
		var uerr error
		t, uerr = Unpack(b.Get([]byte(rootBucket)))
		return uerr
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
