package keyValStore

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Mode selects how a store is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	Create
)

// ErrDuplicate is returned by SetNoDup when the exact (key, value)
// pair is already present.
var ErrDuplicate = fmt.Errorf("duplicate entry")

type StoreConfig struct {
	Path          string
	Mode          Mode
	MinimumFreeMB uint64 // refuse writes below this floor, 0 = default
	Logger        *logrus.Logger
}

// Store is one mapped table of the database: an ordered key-value map
// backed by badger. Writes are serialized by badger's write
// transaction; readers run on independent snapshots.
type Store struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func Open(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.MinimumFreeMB == 0 {
		config.MinimumFreeMB = 64
	}

	if err := config.check(); err != nil {
		return nil, fmt.Errorf("error checking config for store %s: %w", config.Path, err)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false
	if config.Mode == ReadOnly {
		opts.ReadOnly = true
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening store %s: %w", config.Path, err)
	}

	return &Store{
		config:   config,
		badgerDB: db,
	}, nil
}

// EnsureCapacity is called on every write path before the write
// transaction so writers never run the backing files out of space
// mid-commit.
func (s *Store) EnsureCapacity() error {
	return s.config.checkFreeSpace()
}

// Get returns the value stored under key, with a presence flag.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var value []byte
	found := false
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("error reading key %x: %w", key, err)
	}
	return value, found, nil
}

// Set writes key to value, replacing any previous value.
func (s *Store) Set(key, value []byte) error {
	if err := s.EnsureCapacity(); err != nil {
		return err
	}
	atomic.AddUint64(&s.writeCounter, 1)
	err := s.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("error writing key %x: %w", key, err)
	}
	return nil
}

// SetNoDup writes key to value but rejects an exact duplicate of an
// existing (key, value) pair with ErrDuplicate.
func (s *Store) SetNoDup(key, value []byte) error {
	if err := s.EnsureCapacity(); err != nil {
		return err
	}
	atomic.AddUint64(&s.writeCounter, 1)
	err := s.badgerDB.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			existing, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			if bytes.Equal(existing, value) {
				return ErrDuplicate
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, value)
	})
	if err == ErrDuplicate {
		return err
	}
	if err != nil {
		return fmt.Errorf("error writing key %x: %w", key, err)
	}
	return nil
}

// Ascend walks all entries with the given prefix in ascending key
// order. fn returns false to stop early. A nil prefix walks the whole
// store. The walk runs on one read snapshot.
func (s *Store) Ascend(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	atomic.AddUint64(&s.readCounter, 1)
	return s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cont, err := fn(k, v)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// Size returns the number of entries under prefix.
func (s *Store) Size(prefix []byte) (uint64, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var count uint64
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Counters reports the read and write operation totals since open.
func (s *Store) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&s.readCounter), atomic.LoadUint64(&s.writeCounter)
}

func (s *Store) Close() error {
	if s.config.Mode != ReadOnly {
		if err := s.badgerDB.Sync(); err != nil {
			return fmt.Errorf("error syncing store %s: %w", s.config.Path, err)
		}
	}
	return s.badgerDB.Close()
}
