package cdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eunmann/gocdb/pkg/cdbformat"
	"github.com/eunmann/gocdb/pkg/logging"
)

// corruptKeyLength overwrites the key-length field of the record prefix at
// recordOffset with a value that disagrees with the record's actual key,
// simulating framing corruption at an otherwise hash-matching slot.
func corruptKeyLength(t *testing.T, path string, recordOffset int64, badLength uint32) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	defer f.Close()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], badLength)
	if _, err := f.WriteAt(buf[:], recordOffset); err != nil {
		t.Fatalf("write corrupt key length: %v", err)
	}
}

// buildSingleRecordDB writes one record and returns the path along with the
// offset of its record prefix, which is always DirectorySize for the first
// record appended to a fresh Writer.
func buildSingleRecordDB(t *testing.T, key, value []byte) (path string, recordOffset int64) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "corrupt.cdb")

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Append(key, value); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return path, int64(cdbformat.DirectorySize)
}

// TestOpenRecoversFromCorruptRecord exercises the non-strict Reader's
// recovery path: a hash-matching slot whose record framing disagrees with
// the probed key is logged and treated as a miss rather than surfaced as
// an error.
func TestOpenRecoversFromCorruptRecord(t *testing.T) {
	key := []byte("corrupt-me")
	value := []byte("original-value")
	path, recordOffset := buildSingleRecordDB(t, key, value)
	corruptKeyLength(t, path, recordOffset, uint32(len(key)+1))

	var logs bytes.Buffer
	logging.SetLogger(zerolog.New(&logs))
	t.Cleanup(func() { logging.Init(false, false) })

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(%q) on corrupt record = %v, want ErrNotFound", key, err)
	}

	if !bytes.Contains(logs.Bytes(), []byte("corrupt record")) {
		t.Errorf("expected a corrupt-record warning logged, got: %s", logs.String())
	}
}

// TestOpenStrictReturnsErrorOnCorruptRecord exercises the strict Reader:
// the same framing corruption that Open silently recovers from must be
// returned as a hard error from Get, distinct from ErrNotFound.
func TestOpenStrictReturnsErrorOnCorruptRecord(t *testing.T) {
	key := []byte("corrupt-me")
	value := []byte("original-value")
	path, recordOffset := buildSingleRecordDB(t, key, value)
	corruptKeyLength(t, path, recordOffset, uint32(len(key)+1))

	r, err := OpenStrict(path)
	if err != nil {
		t.Fatalf("OpenStrict: %v", err)
	}
	defer r.Close()

	_, err = r.Get(key)
	if err == nil {
		t.Fatal("Get(corrupt record) under OpenStrict = nil error, want an error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(corrupt record) under OpenStrict = %v, want a corruption error, not ErrNotFound", err)
	}
}

// TestOpenStrictSucceedsOnUncorruptedRecord confirms that strict mode does
// not change behavior for a well-formed database: it is only the recovery
// path that differs from Open.
func TestOpenStrictSucceedsOnUncorruptedRecord(t *testing.T) {
	key := []byte("fine")
	value := []byte("value")
	path, _ := buildSingleRecordDB(t, key, value)

	r, err := OpenStrict(path)
	if err != nil {
		t.Fatalf("OpenStrict: %v", err)
	}
	defer r.Close()

	got, err := r.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(value) {
		t.Errorf("Get(%q) = %q, want %q", key, got, value)
	}
}
