package cdb

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/eunmann/gocdb/pkg/cdbformat"
	"github.com/eunmann/gocdb/pkg/cdbhash"
	"github.com/eunmann/gocdb/pkg/logging"
)

// ErrNotFound is returned by Get when a key has no record in the database.
var ErrNotFound = errors.New("cdb: key not found")

// mmapFile memory-maps a file read-only for its lifetime. The mapped bytes
// are safe to read concurrently from any number of goroutines without
// synchronization; Close unmaps them once.
type mmapFile struct {
	data []byte
	size int64
}

func openMmap(path string) (*mmapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cdb: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return &mmapFile{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("cdb: mmap %s: %w", path, err)
	}
	return &mmapFile{data: data, size: size}, nil
}

func (m *mmapFile) Close() error {
	if m.data == nil {
		return nil
	}
	return unix.Munmap(m.data)
}

// slice returns the mapped byte range [offset, offset+length), or false if
// that range falls outside the mapping.
func (m *mmapFile) slice(offset, length int64) ([]byte, bool) {
	if offset < 0 || length < 0 {
		return nil, false
	}
	end := offset + length
	if end < offset || end > m.size {
		return nil, false
	}
	return m.data[offset:end], true
}

// Reader answers lookups against a finished CDB file. Open maps the whole
// file into memory once with golang.org/x/sys/unix.Mmap; every subsequent
// Get or Find reads directly from that mapping instead of issuing a system
// call, so a Reader has no shared cursor and may be used by any number of
// goroutines without a lock.
type Reader struct {
	mmap   *mmapFile
	dir    cdbformat.Directory
	strict bool
	logger zerolog.Logger

	closeOnce sync.Once
}

// Open opens the CDB file at path and loads its slot directory. It returns
// a *CorruptHeaderError if the file is too short to hold one.
//
// The returned Reader recovers from malformed record framing encountered
// mid-probe by logging and treating the slot as a miss. Use OpenStrict for
// a Reader that instead surfaces that framing corruption as an error.
func Open(path string) (*Reader, error) {
	return openReader(path, false)
}

// OpenStrict is like Open, but the returned Reader treats record framing
// corruption discovered during a probe (a hash match whose stored key
// length disagrees with the requested key, or a record that runs past the
// end of the file) as an error instead of silently skipping the slot.
func OpenStrict(path string) (*Reader, error) {
	return openReader(path, true)
}

func openReader(path string, strict bool) (*Reader, error) {
	m, err := openMmap(path)
	if err != nil {
		return nil, err
	}
	if m.size < cdbformat.DirectorySize {
		m.Close()
		return nil, &CorruptHeaderError{Path: path, Err: cdbformat.ErrCorruptHeader}
	}

	dir, err := cdbformat.DecodeDirectory(m.data[:cdbformat.DirectorySize])
	if err != nil {
		m.Close()
		return nil, &CorruptHeaderError{Path: path, Err: err}
	}

	return &Reader{
		mmap:   m,
		dir:    dir,
		strict: strict,
		logger: logging.WithComponent("reader"),
	}, nil
}

// Get returns the first value stored under key, in append order, or
// ErrNotFound if no record matches. A slot table that reaches past the end
// of the mapping is a structural error and is returned as-is; record
// framing corruption is handled per the Reader's strict setting.
func (r *Reader) Get(key []byte) ([]byte, error) {
	var (
		result []byte
		found  bool
	)
	err := r.probe(key, func(v []byte) bool {
		result = v
		found = true
		return false
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return result, nil
}

// Find returns a lazy sequence over every value stored under key, in
// append order. Unlike Get, Find never returns an error: a structural
// failure mid-probe ends the sequence early and is reported only through
// the logging sink, matching the iterator's "no side channel but its own
// values" shape.
func (r *Reader) Find(key []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if err := r.probe(key, yield); err != nil {
			r.logger.Warn().Err(err).Msg("find: probe ended by structural error")
		}
	}
}

// Close unmaps the underlying file. It is idempotent; a failure unmapping
// it is logged, not returned, since there is nothing a caller could do
// differently with it.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		if err := r.mmap.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("munmap failed")
		}
	})
	return nil
}

// probe walks the open-addressed bucket slot table for key, invoking
// onMatch with each matching record's value in slot order. onMatch returns
// false to stop early. probe returns a non-nil error only when a slot
// table entry addresses bytes outside the mapping, which Open's directory
// check does not itself catch; record framing corruption is recovered
// locally unless the Reader is strict.
func (r *Reader) probe(key []byte, onMatch func([]byte) bool) error {
	h := cdbhash.Sum(key)
	entry := r.dir[h&0xff]
	if entry.BucketLength == 0 {
		return nil
	}

	s := (h >> 8) % entry.BucketLength
	for visited := uint32(0); visited < entry.BucketLength; visited++ {
		off := int64(entry.BucketOffset) + int64(s)*cdbformat.SlotSize
		slotBuf, ok := r.mmap.slice(off, cdbformat.SlotSize)
		if !ok {
			return fmt.Errorf("cdb: slot %d of bucket %d out of bounds", s, h&0xff)
		}
		slot := cdbformat.DecodeSlot(slotBuf)
		if slot.RecordOffset == 0 {
			return nil
		}

		if slot.Hash == h {
			value, matched, err := r.readMatch(slot.RecordOffset, key)
			if err != nil {
				return err
			}
			if matched && !onMatch(value) {
				return nil
			}
		}

		s++
		if s == entry.BucketLength {
			s = 0
		}
	}
	return nil
}

// readMatch reads the record at recordOffset and reports whether it is
// keyed by key. A record running past the end of the mapping, or a
// key-length disagreement at a hash-matching slot, is record framing
// corruption: in non-strict mode it is logged and reported as a
// non-match; in strict mode it is returned as an error.
func (r *Reader) readMatch(recordOffset uint32, key []byte) ([]byte, bool, error) {
	prefixBuf, ok := r.mmap.slice(int64(recordOffset), cdbformat.RecordPrefixSize)
	if !ok {
		return r.corrupt("record prefix", recordOffset)
	}
	prefix := cdbformat.DecodeRecordPrefix(prefixBuf)

	if prefix.KeyLength != uint32(len(key)) {
		return r.corrupt("key length mismatch", recordOffset)
	}

	keyOff := int64(recordOffset) + cdbformat.RecordPrefixSize
	keyBuf, ok := r.mmap.slice(keyOff, int64(prefix.KeyLength))
	if !ok {
		return r.corrupt("record key", recordOffset)
	}
	if !bytes.Equal(keyBuf, key) {
		return nil, false, nil
	}

	valueOff := keyOff + int64(prefix.KeyLength)
	valueBuf, ok := r.mmap.slice(valueOff, int64(prefix.ValueLength))
	if !ok {
		return r.corrupt("record value", recordOffset)
	}

	// Copy out of the mapping: the caller may hold this slice past Close,
	// at which point the mapping is gone.
	value := make([]byte, len(valueBuf))
	copy(value, valueBuf)
	return value, true, nil
}

// corrupt applies the Reader's recovery policy to a piece of malformed
// record framing discovered mid-probe.
func (r *Reader) corrupt(what string, recordOffset uint32) ([]byte, bool, error) {
	if r.strict {
		return nil, false, fmt.Errorf("cdb: corrupt %s at offset %d", what, recordOffset)
	}
	r.logger.Warn().
		Str("field", what).
		Uint32("record_offset", recordOffset).
		Msg("corrupt record; treating as miss")
	return nil, false, nil
}
