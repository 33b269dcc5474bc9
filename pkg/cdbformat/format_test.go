package cdbformat

import "testing"

func TestSlotRoundTrip(t *testing.T) {
	s := Slot{Hash: 0xdeadbeef, RecordOffset: 2048}
	enc := EncodeSlot(s)
	if len(enc) != SlotSize {
		t.Fatalf("encoded size = %d, want %d", len(enc), SlotSize)
	}
	got := DecodeSlot(enc[:])
	if got != s {
		t.Errorf("DecodeSlot(EncodeSlot(s)) = %+v, want %+v", got, s)
	}
}

func TestEmptySlotHasZeroOffset(t *testing.T) {
	enc := EncodeSlot(Slot{})
	got := DecodeSlot(enc[:])
	if got.RecordOffset != 0 {
		t.Errorf("empty slot RecordOffset = %d, want 0", got.RecordOffset)
	}
}

func TestRecordPrefixRoundTrip(t *testing.T) {
	p := RecordPrefix{KeyLength: 4, ValueLength: 1 << 20}
	enc := EncodeRecordPrefix(p)
	if len(enc) != RecordPrefixSize {
		t.Fatalf("encoded size = %d, want %d", len(enc), RecordPrefixSize)
	}
	got := DecodeRecordPrefix(enc[:])
	if got != p {
		t.Errorf("DecodeRecordPrefix(EncodeRecordPrefix(p)) = %+v, want %+v", got, p)
	}
}

func TestDirectoryRoundTrip(t *testing.T) {
	var d Directory
	for i := range d {
		d[i] = DirectoryEntry{BucketOffset: uint32(i * 100), BucketLength: uint32(i % 5)}
	}

	enc := d.Encode()
	if len(enc) != DirectorySize {
		t.Fatalf("encoded size = %d, want %d", len(enc), DirectorySize)
	}

	got, err := DecodeDirectory(enc)
	if err != nil {
		t.Fatalf("DecodeDirectory failed: %v", err)
	}
	if got != d {
		t.Errorf("DecodeDirectory(d.Encode()) does not round-trip")
	}
}

func TestDecodeDirectoryTooShort(t *testing.T) {
	_, err := DecodeDirectory(make([]byte, DirectorySize-1))
	if err != ErrCorruptHeader {
		t.Errorf("DecodeDirectory(short) = %v, want ErrCorruptHeader", err)
	}
}

func TestZeroedDirectoryIsAllEmpty(t *testing.T) {
	d, err := DecodeDirectory(make([]byte, DirectorySize))
	if err != nil {
		t.Fatalf("DecodeDirectory failed: %v", err)
	}
	for i, e := range d {
		if e.BucketLength != 0 {
			t.Fatalf("bucket %d: BucketLength = %d, want 0", i, e.BucketLength)
		}
	}
}
