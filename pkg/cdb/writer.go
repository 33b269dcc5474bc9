package cdb

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eunmann/gocdb/pkg/cdbformat"
	"github.com/eunmann/gocdb/pkg/cdbhash"
	"github.com/eunmann/gocdb/pkg/fileutil"
	"github.com/eunmann/gocdb/pkg/humanfmt"
	"github.com/eunmann/gocdb/pkg/logging"
)

// pointer is a pending slot table entry: a key's hash and the offset of
// its record, recorded at Append time and placed into its bucket's slot
// table at Finish.
type pointer struct {
	hash         uint32
	recordOffset uint32
}

// Writer streams (key, value) records to a fresh CDB file. Append may be
// called any number of times; Finish builds the two-level hash index from
// every appended pointer, patches the slot directory, and atomically
// publishes the file. A Writer is single-pass and is not safe for
// concurrent use.
type Writer struct {
	file    *os.File
	bw      *bufio.Writer
	tmpPath string
	outPath string

	offset   uint32
	pointers []pointer

	finalized bool
	logger    zerolog.Logger

	closeOnce sync.Once
}

// Create opens a new Writer that will publish to outPath on Finish. It
// reserves the leading DirectorySize bytes of the file for the slot
// directory, which is filled in with real values only once Finish knows
// where every bucket's slot table landed.
func Create(outPath string) (*Writer, error) {
	tmpDir := filepath.Dir(outPath)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("cdb: create tmp dir: %w", err)
	}

	tmpPath := fileutil.TmpPath(tmpDir, outPath)
	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("cdb: create temp file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if _, err := bw.Write(make([]byte, cdbformat.DirectorySize)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("cdb: reserve directory: %w", err)
	}

	return &Writer{
		file:    f,
		bw:      bw,
		tmpPath: tmpPath,
		outPath: outPath,
		offset:  cdbformat.DirectorySize,
		logger:  logging.WithComponent("writer"),
	}, nil
}

// Append writes one (key, value) record. Keys need not be unique: a key
// appended more than once becomes a multi-valued key, and Find later
// returns its values in the order they were appended.
func (w *Writer) Append(key, value []byte) error {
	if w.finalized {
		return ErrAlreadyFinalized
	}
	if key == nil || value == nil {
		return ErrInvalidArgument
	}
	if len(key) > math.MaxUint32 || len(value) > math.MaxUint32 {
		return ErrTooLarge
	}

	recordSize := uint64(cdbformat.RecordPrefixSize) + uint64(len(key)) + uint64(len(value))
	// Leave room for the two slots per record that Finish appends, so no
	// bucket offset in the directory can wrap.
	tableSize := uint64(len(w.pointers)+1) * 2 * cdbformat.SlotSize
	if uint64(w.offset)+recordSize+tableSize > math.MaxUint32 {
		return ErrTooLarge
	}

	prefix := cdbformat.EncodeRecordPrefix(cdbformat.RecordPrefix{
		KeyLength:   uint32(len(key)),
		ValueLength: uint32(len(value)),
	})
	recordOffset := w.offset

	if _, err := w.bw.Write(prefix[:]); err != nil {
		return fmt.Errorf("cdb: write record prefix: %w", err)
	}
	if _, err := w.bw.Write(key); err != nil {
		return fmt.Errorf("cdb: write record key: %w", err)
	}
	if _, err := w.bw.Write(value); err != nil {
		return fmt.Errorf("cdb: write record value: %w", err)
	}

	w.offset += uint32(recordSize)
	w.pointers = append(w.pointers, pointer{
		hash:         cdbhash.Sum(key),
		recordOffset: recordOffset,
	})
	return nil
}

// Finish builds the bucket slot tables from every appended pointer,
// patches the slot directory at offset 0, and atomically publishes the
// file to its final path. After Finish returns successfully, the path is
// visible to readers and the Writer accepts no further Appends.
func (w *Writer) Finish() error {
	if w.finalized {
		return ErrAlreadyFinalized
	}

	if err := w.finish(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return err
	}

	w.finalized = true
	return nil
}

// finish does the actual index-building and publishing work; Finish wraps
// it with the discard-on-failure policy so every error path leaves either
// a finalized outPath or no trace of the temp file at all.
func (w *Writer) finish() error {
	counts, ordered := w.groupByBucket()

	dir, bucketLengths := w.layoutDirectory(counts)

	if err := w.writeBucketTables(ordered, counts, bucketLengths); err != nil {
		return err
	}

	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("cdb: flush bucket tables: %w", err)
	}

	dirBytes := dir.Encode()
	if _, err := w.file.WriteAt(dirBytes, 0); err != nil {
		return fmt.Errorf("cdb: patch slot directory: %w", err)
	}

	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("cdb: measure final size: %w", err)
	}
	finalSize := info.Size()

	if err := w.file.Close(); err != nil {
		w.logger.Debug().Err(err).Msg("close temp file failed")
	}

	if err := fileutil.Publish(w.tmpPath, w.outPath); err != nil {
		return fmt.Errorf("cdb: publish %s: %w", w.outPath, err)
	}

	w.logger.Debug().
		Str("records", humanfmt.Count(int64(len(w.pointers)))).
		Str("size", humanfmt.Bytes(finalSize)).
		Str("path", w.outPath).
		Msg("finished cdb")
	return nil
}

// groupByBucket reorders the pointers recorded by Append into per-bucket
// runs, preserving each bucket's original append order, and returns the
// per-bucket counts alongside the reordered slice.
func (w *Writer) groupByBucket() (counts [cdbformat.NumBuckets]uint32, ordered []pointer) {
	for _, p := range w.pointers {
		counts[p.hash&0xff]++
	}

	var starts [cdbformat.NumBuckets]uint32
	for b := 1; b < cdbformat.NumBuckets; b++ {
		starts[b] = starts[b-1] + counts[b-1]
	}

	cursor := starts
	ordered = make([]pointer, len(w.pointers))
	for _, p := range w.pointers {
		b := p.hash & 0xff
		ordered[cursor[b]] = p
		cursor[b]++
	}
	return counts, ordered
}

// layoutDirectory assigns each non-empty bucket a slot table of twice its
// record count, laid out contiguously after the record region, and
// returns the resulting directory along with each bucket's slot count.
func (w *Writer) layoutDirectory(counts [cdbformat.NumBuckets]uint32) (cdbformat.Directory, [cdbformat.NumBuckets]uint32) {
	var dir cdbformat.Directory
	var lengths [cdbformat.NumBuckets]uint32

	cursor := w.offset
	for b := 0; b < cdbformat.NumBuckets; b++ {
		if counts[b] == 0 {
			continue
		}
		length := counts[b] * 2
		lengths[b] = length
		dir[b] = cdbformat.DirectoryEntry{
			BucketOffset: cursor,
			BucketLength: length,
		}
		cursor += length * cdbformat.SlotSize
	}
	return dir, lengths
}

// writeBucketTables places every pointer into its bucket's open-addressed
// slot table by linear probing from (hash>>8) mod bucketLength, then
// appends the tables to the file in bucket order.
func (w *Writer) writeBucketTables(ordered []pointer, counts, lengths [cdbformat.NumBuckets]uint32) error {
	var starts [cdbformat.NumBuckets]uint32
	for b := 1; b < cdbformat.NumBuckets; b++ {
		starts[b] = starts[b-1] + counts[b-1]
	}

	for b := 0; b < cdbformat.NumBuckets; b++ {
		length := lengths[b]
		if length == 0 {
			continue
		}

		slots := make([]cdbformat.Slot, length)
		for i := starts[b]; i < starts[b]+counts[b]; i++ {
			p := ordered[i]
			idx := (p.hash >> 8) % length
			for slots[idx].RecordOffset != 0 {
				idx++
				if idx == length {
					idx = 0
				}
			}
			slots[idx] = cdbformat.Slot{Hash: p.hash, RecordOffset: p.recordOffset}
		}

		for _, s := range slots {
			enc := cdbformat.EncodeSlot(s)
			if _, err := w.bw.Write(enc[:]); err != nil {
				return fmt.Errorf("cdb: write bucket %d slot table: %w", b, err)
			}
		}
	}
	return nil
}

// Close finalizes the Writer if Finish has not already run, then releases
// its resources. It is idempotent: only the first call does any work, so
// a deferred Close after an explicit Finish is a no-op. Errors from an
// implicit Finish propagate; Finish itself is responsible for discarding
// the temp file on failure.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if !w.finalized {
			err = w.Finish()
		}
	})
	return err
}
