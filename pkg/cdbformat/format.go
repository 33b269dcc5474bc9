// Package cdbformat encodes and decodes the fixed-size structures of the
// constant database on-disk format: the 2048-byte slot directory, the
// 8-byte bucket slots, and the 8-byte record length prefixes. It knows
// nothing about hashing or probing; it only turns bytes into typed values
// and back, little-endian throughout.
package cdbformat

import "encoding/binary"

const (
	// NumBuckets is the number of hash buckets a key's low hash byte can
	// select, and the number of entries in the slot directory.
	NumBuckets = 256

	// DirectoryEntrySize is the size in bytes of one slot directory entry:
	// bucket_offset:u32le, bucket_length:u32le.
	DirectoryEntrySize = 8

	// DirectorySize is the size in bytes of the slot directory, which
	// always occupies the first bytes of a CDB file.
	DirectorySize = NumBuckets * DirectoryEntrySize

	// SlotSize is the size in bytes of one bucket slot: hash:u32le,
	// record_offset:u32le.
	SlotSize = 8

	// RecordPrefixSize is the size in bytes of a record's length prefix:
	// key_length:u32le, value_length:u32le.
	RecordPrefixSize = 8
)

// DirectoryEntry describes one bucket: where its slot table begins and how
// many slots it holds. A BucketLength of zero means no key ever hashed to
// this bucket.
type DirectoryEntry struct {
	BucketOffset uint32
	BucketLength uint32
}

// Slot is one 8-byte entry within a bucket's slot table. A slot with
// RecordOffset == 0 is empty and terminates a probe.
type Slot struct {
	Hash         uint32
	RecordOffset uint32
}

// RecordPrefix is the 8-byte length header written before every record's
// key and value bytes.
type RecordPrefix struct {
	KeyLength   uint32
	ValueLength uint32
}

// EncodeDirectoryEntry writes a directory entry in little-endian order.
func EncodeDirectoryEntry(e DirectoryEntry) [DirectoryEntrySize]byte {
	var buf [DirectoryEntrySize]byte
	binary.LittleEndian.PutUint32(buf[0:4], e.BucketOffset)
	binary.LittleEndian.PutUint32(buf[4:8], e.BucketLength)
	return buf
}

// DecodeDirectoryEntry reads a directory entry from exactly
// DirectoryEntrySize bytes.
func DecodeDirectoryEntry(buf []byte) DirectoryEntry {
	return DirectoryEntry{
		BucketOffset: binary.LittleEndian.Uint32(buf[0:4]),
		BucketLength: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// EncodeSlot writes a bucket slot in little-endian order.
func EncodeSlot(s Slot) [SlotSize]byte {
	var buf [SlotSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], s.Hash)
	binary.LittleEndian.PutUint32(buf[4:8], s.RecordOffset)
	return buf
}

// DecodeSlot reads a bucket slot from exactly SlotSize bytes.
func DecodeSlot(buf []byte) Slot {
	return Slot{
		Hash:         binary.LittleEndian.Uint32(buf[0:4]),
		RecordOffset: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// EncodeRecordPrefix writes a record's length prefix in little-endian order.
func EncodeRecordPrefix(p RecordPrefix) [RecordPrefixSize]byte {
	var buf [RecordPrefixSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], p.KeyLength)
	binary.LittleEndian.PutUint32(buf[4:8], p.ValueLength)
	return buf
}

// DecodeRecordPrefix reads a record's length prefix from exactly
// RecordPrefixSize bytes.
func DecodeRecordPrefix(buf []byte) RecordPrefix {
	return RecordPrefix{
		KeyLength:   binary.LittleEndian.Uint32(buf[0:4]),
		ValueLength: binary.LittleEndian.Uint32(buf[4:8]),
	}
}
