// Package cdb reads and writes D. J. Bernstein's constant database format:
// an immutable, on-disk associative array from byte-string keys to
// multi-valued byte-string values, addressed by a two-level hash table so
// that any lookup costs at most two disk reads in the expected case.
//
// A Writer streams (key, value) pairs to a fresh file and, on Finish,
// materializes the 256-bucket hash index and patches the slot directory at
// offset 0. A Reader opens a finished file by memory-mapping it with
// golang.org/x/sys/unix.Mmap, loads the 2048-byte directory from the
// mapping once, and thereafter answers Get and Find by indexing directly
// into the mapped bytes, so a single Reader may be shared by any number of
// concurrent goroutines without synchronization or system calls per read.
//
// The format is byte-for-byte compatible with the original cdb tool: a
// file built by this package can be read by cdbget, and vice versa.
package cdb
