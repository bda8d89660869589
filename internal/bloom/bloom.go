// Package bloom holds the negative-lookup accelerator that fronts the
// hash store: a single memory-mapped bit array with no false
// negatives. Hash functions are k disjoint bit windows read from the
// start of the block hash; the input is already uniformly random so
// no second hash is applied.
package bloom

import (
	"fmt"
	"os"
	"syscall"
)

const Filename = "bloom_filter"

// Filter is the mapped bit array. A disabled filter has no backing
// file and reports every hash as possibly present.
type Filter struct {
	enabled   bool
	mHashSize uint32 // log2 of the bit count
	kHashFns  uint32
	readOnly  bool
	file      *os.File
	bits      []byte
}

// Open maps the filter file under dir, creating and sizing it when it
// does not exist yet and the mode allows writing. mHashSize is the
// log2 of the bit count M; kHashFns is the number of bit windows.
func Open(dir string, readOnly, enabled bool, mHashSize, kHashFns uint32) (*Filter, error) {
	f := &Filter{
		enabled:   enabled,
		mHashSize: mHashSize,
		kHashFns:  kHashFns,
		readOnly:  readOnly,
	}
	if !enabled {
		return f, nil
	}
	if mHashSize < 3 || mHashSize > 40 {
		return nil, fmt.Errorf("invalid bloom filter bit size 2^%d", mHashSize)
	}
	if kHashFns == 0 {
		return nil, fmt.Errorf("bloom filter needs at least one hash function")
	}

	path := dir + "/" + Filename
	byteSize := int64(1) << (mHashSize - 3)

	flags := os.O_RDWR | os.O_CREATE
	prot := syscall.PROT_READ | syscall.PROT_WRITE
	if readOnly {
		flags = os.O_RDONLY
		prot = syscall.PROT_READ
	}

	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening bloom filter: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() == 0 && !readOnly {
		if err := file.Truncate(byteSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("error sizing bloom filter: %w", err)
		}
	} else if info.Size() != byteSize && info.Size() != 0 {
		file.Close()
		return nil, fmt.Errorf("bloom filter size %d does not match settings size %d",
			info.Size(), byteSize)
	}

	bits, err := syscall.Mmap(int(file.Fd()), 0, int(byteSize), prot, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("error mapping bloom filter: %w", err)
	}

	f.file = file
	f.bits = bits
	return f, nil
}

// ValidateAgainstDigest checks that k windows of log2(M) bits fit in
// a digest of the given byte length.
func ValidateAgainstDigest(mHashSize, kHashFns uint32, digestLen int) error {
	if mHashSize*kHashFns > uint32(digestLen)*8 {
		return fmt.Errorf("bloom filter settings need %d bits but the digest has %d",
			mHashSize*kHashFns, digestLen*8)
	}
	return nil
}

// window reads the i-th mHashSize-bit window from the start of h.
func (f *Filter) window(h []byte, i uint32) uint64 {
	start := uint64(i) * uint64(f.mHashSize)
	var v uint64
	for b := uint64(0); b < uint64(f.mHashSize); b++ {
		bit := start + b
		v <<= 1
		if h[bit>>3]&(0x80>>(bit&7)) != 0 {
			v |= 1
		}
	}
	return v
}

// Add sets all k bits for h. Callers hold the writer lock.
func (f *Filter) Add(h []byte) {
	if !f.enabled || f.readOnly {
		return
	}
	for i := uint32(0); i < f.kHashFns; i++ {
		idx := f.window(h, i)
		f.bits[idx>>3] |= 1 << (idx & 7)
	}
}

// Test reports whether h may be present. False means definitely
// absent. A disabled filter always reports true.
func (f *Filter) Test(h []byte) bool {
	if !f.enabled {
		return true
	}
	for i := uint32(0); i < f.kHashFns; i++ {
		idx := f.window(h, i)
		if f.bits[idx>>3]&(1<<(idx&7)) == 0 {
			return false
		}
	}
	return true
}

func (f *Filter) Close() error {
	if f.bits != nil {
		if err := syscall.Munmap(f.bits); err != nil {
			return fmt.Errorf("error unmapping bloom filter: %w", err)
		}
		f.bits = nil
	}
	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}

// Remove deletes the filter file under dir. Used by rebuild.
func Remove(dir string) error {
	err := os.Remove(dir + "/" + Filename)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
