package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.etcd.io/bbolt"
)

const (
	// LedgerName is the build history database inside a cache root
	LedgerName = "ledger.db"

	// bucketName is the BoltDB bucket holding entries keyed by fingerprint
	bucketName = "builds"
)

// Ledger is the build history of one cache root, stored in BoltDB. Writers
// must hold the root's lock.
type Ledger struct {
	db   *bbolt.DB
	root string
}

// OpenLedger opens (creating if needed) the ledger of the cache root
func OpenLedger(root string) (*Ledger, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", root)
	}

	db, err := bbolt.Open(filepath.Join(root, LedgerName), 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, eris.Wrap(err, "failed to open build ledger")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to create ledger bucket")
	}

	return &Ledger{db: db, root: root}, nil
}

// OpenLedgerReadOnly opens an existing ledger for inspection. A root that
// never had a build returns (nil, nil).
func OpenLedgerReadOnly(root string) (*Ledger, error) {
	path := filepath.Join(root, LedgerName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "failed to open build ledger")
	}

	return &Ledger{db: db, root: root}, nil
}

// Close closes the ledger database
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}

	return nil
}

// Record stores e under its fingerprint, replacing an earlier build of the
// same fingerprint
func (l *Ledger) Record(e Entry) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}

		return b.Put([]byte(e.Fingerprint), data)
	})
	if err != nil {
		return eris.Wrap(err, "failed to record build")
	}

	return nil
}

// Get returns the entry for fingerprint, nil when unknown
func (l *Ledger) Get(fingerprint string) (*Entry, error) {
	var entry *Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}

		data := b.Get([]byte(fingerprint))
		if data == nil {
			return nil
		}

		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to read build ledger")
	}

	return entry, nil
}

// List returns every entry, oldest first
func (l *Ledger) List() ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to read build ledger")
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return entries, nil
}

// Latest returns the most recent build of triple, nil when there is none
func (l *Ledger) Latest(triple string) (*Entry, error) {
	entries, err := l.List()
	if err != nil {
		return nil, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Triple == triple {
			return &entries[i], nil
		}
	}

	return nil, nil
}

// Stats returns the number of recorded builds and the bytes held by the
// sysroot trees of the root
func (l *Ledger) Stats() (int, int64, error) {
	var count int
	err := l.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(bucketName)); b != nil {
			count = b.Stats().KeyN
		}

		return nil
	})
	if err != nil {
		return 0, 0, eris.Wrap(err, "failed to read build ledger")
	}

	var totalSize int64
	_ = filepath.Walk(filepath.Join(l.root, "lib"), func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if !info.IsDir() {
			totalSize += info.Size()
		}

		return nil
	})

	return count, totalSize, nil
}
