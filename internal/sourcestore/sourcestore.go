// Package sourcestore holds the three source-side tables: the
// file-hash to source-id bijection, the per-source name sets, and the
// per-source descriptive data.
package sourcestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/forensicdb/hashdb/internal/keyValStore"
	"github.com/forensicdb/hashdb/internal/settings"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// Key prefixes inside the source-id store. The id direction uses
// big-endian ids so iteration yields sources in assignment order.
var (
	keyByHash = []byte{'h'}
	keyByID   = []byte{'i'}
	keyNextID = []byte{'n'}
)

func idKey(prefix []byte, id hashtypes.SourceID) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(id))
	return k
}

// IDStore is the FileBinaryHash <-> SourceID bijection. IDs are dense
// and monotonic; the single writer assigns next = max+1.
type IDStore struct {
	kv *keyValStore.Store
}

func OpenIDStore(dir string, mode keyValStore.Mode, logger *logrus.Logger) (*IDStore, error) {
	kv, err := keyValStore.Open(keyValStore.StoreConfig{
		Path:   filepath.Join(dir, settings.SourceIDDir),
		Mode:   mode,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &IDStore{kv: kv}, nil
}

// Insert interns fileHash, returning its id and whether it was new.
func (s *IDStore) Insert(fileHash []byte) (hashtypes.SourceID, bool, error) {
	if id, found, err := s.FindID(fileHash); err != nil || found {
		return id, false, err
	}

	next := hashtypes.SourceID(1)
	value, found, err := s.kv.Get(keyNextID)
	if err != nil {
		return 0, false, err
	}
	if found {
		v, _ := binary.Uvarint(value)
		next = hashtypes.SourceID(v)
	}

	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(next))
	if err := s.kv.Set(append(append([]byte(nil), keyByHash...), fileHash...), buf[:n]); err != nil {
		return 0, false, err
	}
	if err := s.kv.Set(idKey(keyByID, next), append([]byte(nil), fileHash...)); err != nil {
		return 0, false, err
	}
	n = binary.PutUvarint(buf[:], uint64(next)+1)
	if err := s.kv.Set(keyNextID, buf[:n]); err != nil {
		return 0, false, err
	}
	return next, true, nil
}

// FindID resolves a file hash to its source id.
func (s *IDStore) FindID(fileHash []byte) (hashtypes.SourceID, bool, error) {
	value, found, err := s.kv.Get(append(append([]byte(nil), keyByHash...), fileHash...))
	if err != nil || !found {
		return 0, false, err
	}
	v, _ := binary.Uvarint(value)
	return hashtypes.SourceID(v), true, nil
}

// FindHash resolves a source id back to its file hash.
func (s *IDStore) FindHash(id hashtypes.SourceID) ([]byte, bool, error) {
	return s.kv.Get(idKey(keyByID, id))
}

// Iterate walks sources in id order.
func (s *IDStore) Iterate(fn func(id hashtypes.SourceID, fileHash []byte) (bool, error)) error {
	return s.kv.Ascend(keyByID, func(key, value []byte) (bool, error) {
		id := hashtypes.SourceID(binary.BigEndian.Uint64(key[len(keyByID):]))
		return fn(id, value)
	})
}

// Size is the number of interned sources.
func (s *IDStore) Size() (uint64, error) {
	return s.kv.Size(keyByID)
}

func (s *IDStore) Close() error {
	return s.kv.Close()
}

// NameStore maps a source id to its set of (repository, filename)
// names. Names are never removed.
type NameStore struct {
	kv *keyValStore.Store
}

func OpenNameStore(dir string, mode keyValStore.Mode, logger *logrus.Logger) (*NameStore, error) {
	kv, err := keyValStore.Open(keyValStore.StoreConfig{
		Path:   filepath.Join(dir, settings.SourceNameDir),
		Mode:   mode,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &NameStore{kv: kv}, nil
}

func encodeNames(names []hashtypes.SourceName) []byte {
	var out []byte
	var tmp [binary.MaxVarintLen64]byte
	putString := func(s string) {
		n := binary.PutUvarint(tmp[:], uint64(len(s)))
		out = append(out, tmp[:n]...)
		out = append(out, s...)
	}
	for _, name := range names {
		putString(name.RepositoryName)
		putString(name.Filename)
	}
	return out
}

func decodeNames(data []byte) ([]hashtypes.SourceName, error) {
	var names []hashtypes.SourceName
	r := bytes.NewReader(data)
	readString := func() (string, error) {
		l, err := binary.ReadUvarint(r)
		if err != nil {
			return "", err
		}
		if l > uint64(r.Len()) {
			return "", fmt.Errorf("truncated source name")
		}
		b := make([]byte, l)
		if l > 0 {
			if _, err := r.Read(b); err != nil {
				return "", err
			}
		}
		return string(b), nil
	}
	for r.Len() > 0 {
		repo, err := readString()
		if err != nil {
			return nil, fmt.Errorf("corrupt source name record: %w", err)
		}
		file, err := readString()
		if err != nil {
			return nil, fmt.Errorf("corrupt source name record: %w", err)
		}
		names = append(names, hashtypes.SourceName{RepositoryName: repo, Filename: file})
	}
	return names, nil
}

// Insert adds one (repository, filename) to the id's name set.
// Idempotent on the triple; reports whether the set grew.
func (s *NameStore) Insert(id hashtypes.SourceID, repositoryName, filename string) (bool, error) {
	key := idKey(nil, id)
	value, found, err := s.kv.Get(key)
	if err != nil {
		return false, err
	}
	var names []hashtypes.SourceName
	if found {
		if names, err = decodeNames(value); err != nil {
			return false, err
		}
	}
	candidate := hashtypes.SourceName{RepositoryName: repositoryName, Filename: filename}
	for _, name := range names {
		if name == candidate {
			return false, nil
		}
	}
	names = append(names, candidate)
	sort.Slice(names, func(i, j int) bool {
		if names[i].RepositoryName != names[j].RepositoryName {
			return names[i].RepositoryName < names[j].RepositoryName
		}
		return names[i].Filename < names[j].Filename
	})
	return true, s.kv.Set(key, encodeNames(names))
}

// Find returns the name set of id, empty when none recorded.
func (s *NameStore) Find(id hashtypes.SourceID) ([]hashtypes.SourceName, error) {
	value, found, err := s.kv.Get(idKey(nil, id))
	if err != nil || !found {
		return nil, err
	}
	return decodeNames(value)
}

// Size is the number of sources with at least one name.
func (s *NameStore) Size() (uint64, error) {
	return s.kv.Size(nil)
}

func (s *NameStore) Close() error {
	return s.kv.Close()
}

// DataStore maps a source id to its descriptive data. Last writer
// wins.
type DataStore struct {
	kv *keyValStore.Store
}

func OpenDataStore(dir string, mode keyValStore.Mode, logger *logrus.Logger) (*DataStore, error) {
	kv, err := keyValStore.Open(keyValStore.StoreConfig{
		Path:   filepath.Join(dir, settings.SourceDataDir),
		Mode:   mode,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &DataStore{kv: kv}, nil
}

func encodeData(d hashtypes.SourceData) []byte {
	var out []byte
	var tmp [binary.MaxVarintLen64]byte
	put := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		out = append(out, tmp[:n]...)
	}
	put(d.FileSize)
	put(uint64(len(d.FileType)))
	out = append(out, d.FileType...)
	put(d.NonprobativeCount)
	return out
}

func decodeData(data []byte) (hashtypes.SourceData, error) {
	var d hashtypes.SourceData
	r := bytes.NewReader(data)
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return d, fmt.Errorf("corrupt source data record: %w", err)
	}
	typeLen, err := binary.ReadUvarint(r)
	if err != nil {
		return d, fmt.Errorf("corrupt source data record: %w", err)
	}
	if typeLen > uint64(r.Len()) {
		return d, fmt.Errorf("truncated file type")
	}
	fileType := make([]byte, typeLen)
	if typeLen > 0 {
		if _, err := r.Read(fileType); err != nil {
			return d, err
		}
	}
	nonprobative, err := binary.ReadUvarint(r)
	if err != nil {
		return d, fmt.Errorf("corrupt source data record: %w", err)
	}
	d.FileSize = size
	d.FileType = string(fileType)
	d.NonprobativeCount = nonprobative
	return d, nil
}

// Insert overwrites the data record of id.
func (s *DataStore) Insert(id hashtypes.SourceID, d hashtypes.SourceData) error {
	return s.kv.Set(idKey(nil, id), encodeData(d))
}

// Find returns the data record of id.
func (s *DataStore) Find(id hashtypes.SourceID) (hashtypes.SourceData, bool, error) {
	value, found, err := s.kv.Get(idKey(nil, id))
	if err != nil || !found {
		return hashtypes.SourceData{}, false, err
	}
	d, err := decodeData(value)
	if err != nil {
		return hashtypes.SourceData{}, false, err
	}
	return d, true, nil
}

// Size is the number of sources with data records.
func (s *DataStore) Size() (uint64, error) {
	return s.kv.Size(nil)
}

func (s *DataStore) Close() error {
	return s.kv.Close()
}
