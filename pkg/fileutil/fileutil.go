// Package fileutil provides filesystem helpers for publishing a finished
// CDB file atomically and for sanity-checking one that already exists.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/eunmann/gocdb/pkg/cdbformat"
	"github.com/eunmann/gocdb/pkg/logging"
)

// Exists returns true if the file exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsNonEmpty returns true if the file exists and has non-zero size.
func IsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// WriteTmpThenPublish writes a file under a uuid-suffixed temporary name in
// tmpDir, fsyncs it, then atomically renames it to outPath. writeFunc
// receives the temporary path and must write the complete file to it.
//
// This is how a finalized CDB is made visible to readers: build the whole
// file, including its patched slot directory, before any path a reader
// might open shows the new content.
func WriteTmpThenPublish(tmpDir, outPath string, writeFunc func(tmpPath string) error) error {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}

	tmpPath := TmpPath(tmpDir, outPath)

	if err := writeFunc(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return Publish(tmpPath, outPath)
}

// TmpPath returns a uuid-suffixed temporary path for outPath, rooted in
// tmpDir. Callers that build a file incrementally (rather than through a
// single writeFunc, as WriteTmpThenPublish expects) create their handle at
// this path and call Publish once the file is complete.
func TmpPath(tmpDir, outPath string) string {
	return filepath.Join(tmpDir, filepath.Base(outPath)+"."+uuid.NewString()+".tmp")
}

// Publish fsyncs the file at tmpPath and atomically renames it to outPath.
// It complements TmpPath for writers that hold their own open handle
// throughout construction instead of going through WriteTmpThenPublish.
func Publish(tmpPath, outPath string) error {
	if err := syncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	outDir := filepath.Dir(outPath)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}

	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}

// CleanupTmpFiles removes leftover ".tmp"-suffixed files under dir, e.g.
// after a writer crashed mid-publish. It never touches files that were
// already renamed to their final name.
func CleanupTmpFiles(dir string) error {
	log := logging.L()

	var removed int
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr
		}
		if !info.IsDir() && strings.HasSuffix(path, ".tmp") {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})

	if removed > 0 {
		log.Debug().Int("files_removed", removed).Str("dir", dir).Msg("cleaned up tmp files")
	}

	return err
}

// IsWellFormedCDB performs the structural checks from the CDB file format
// contract without a full scan: the file must be at least
// cdbformat.DirectorySize bytes, and every non-empty bucket's slot table
// must lie entirely within the file.
func IsWellFormedCDB(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	size := info.Size()
	if size < cdbformat.DirectorySize {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, cdbformat.DirectorySize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return false
	}

	dir, err := cdbformat.DecodeDirectory(buf)
	if err != nil {
		return false
	}

	for _, e := range dir {
		if e.BucketLength == 0 {
			continue
		}
		end := int64(e.BucketOffset) + int64(e.BucketLength)*cdbformat.SlotSize
		if end > size {
			return false
		}
	}

	return true
}
