// extract.go: Archive extraction collaborator
//
// Turns an uploaded plugin archive into an extracted directory under
// the host's temp area. Extraction is defensive: entry paths are
// confined to the target directory (zip-slip), and file-count and
// total-size limits bound decompression bombs before the security
// scanner ever runs.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extractor produces an extracted directory from an uploaded archive.
type Extractor interface {
	Extract(archivePath, destDir string) error
}

// Extraction bounds.
const (
	DefaultMaxArchiveFiles = 10000
	DefaultMaxExtractSize  = 200 << 20
)

// ZipExtractor extracts zip archives with zip-slip and bomb defenses.
type ZipExtractor struct {
	// MaxFiles bounds the number of entries; zero means the default.
	MaxFiles int
	// MaxTotalSize bounds the cumulative uncompressed size; zero means
	// the default.
	MaxTotalSize int64
}

// Extract unpacks archivePath into destDir. Any entry resolving outside
// destDir aborts the extraction.
func (z *ZipExtractor) Extract(archivePath, destDir string) error {
	maxFiles := z.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxArchiveFiles
	}
	maxTotal := z.MaxTotalSize
	if maxTotal <= 0 {
		maxTotal = DefaultMaxExtractSize
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return NewExtractionFailureError(archivePath, err)
	}
	defer reader.Close()

	if len(reader.File) > maxFiles {
		return NewExtractionFailureError(archivePath,
			fmt.Errorf("archive holds %d entries, limit is %d", len(reader.File), maxFiles))
	}

	var total int64
	for _, entry := range reader.File {
		target, err := confinedPath(destDir, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return NewFilesystemFailureError(target, err)
			}
			continue
		}
		// Symlinks could escape the confinement after the path check.
		if entry.Mode()&os.ModeSymlink != 0 {
			continue
		}

		total += int64(entry.UncompressedSize64)
		if total > maxTotal {
			return NewExtractionFailureError(archivePath,
				fmt.Errorf("uncompressed size exceeds %d bytes", maxTotal))
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return NewFilesystemFailureError(filepath.Dir(target), err)
		}
		if err := extractEntry(entry, target, maxTotal-total+int64(entry.UncompressedSize64)); err != nil {
			return err
		}
	}
	return nil
}

// confinedPath joins name under dir and rejects anything escaping it.
func confinedPath(dir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", NewExtractionFailureError(name, fmt.Errorf("entry path escapes extraction directory"))
	}
	target := filepath.Join(dir, cleaned)
	if target != dir && !strings.HasPrefix(target, dir+string(os.PathSeparator)) {
		return "", NewExtractionFailureError(name, fmt.Errorf("entry path escapes extraction directory"))
	}
	return target, nil
}

// extractEntry copies one archive entry, trusting the declared size
// only as a hint: the copy itself is capped.
func extractEntry(entry *zip.File, target string, limit int64) error {
	src, err := entry.Open()
	if err != nil {
		return NewExtractionFailureError(entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return NewFilesystemFailureError(target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(src, limit)); err != nil {
		return NewFilesystemFailureError(target, err)
	}
	return nil
}

// manifestFileNames are checked in order when locating a package's
// manifest; themes ship theme.json instead of plugin.json.
var manifestFileNames = []string{"plugin.json", "theme.json", "plugin.yaml", "plugin.yml"}

// FindManifest locates and parses the manifest at the root of an
// extracted package directory. A package whose manifest lives one
// directory down (archives wrapping a single top-level folder) is also
// accepted.
func FindManifest(dir string) (*PluginManifest, string, error) {
	if manifest, path, err := readManifestIn(dir); manifest != nil || err != nil {
		return manifest, path, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", NewFilesystemFailureError(dir, err)
	}
	var subdirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			subdirs = append(subdirs, entry.Name())
		}
	}
	if len(subdirs) == 1 {
		nested := filepath.Join(dir, subdirs[0])
		if manifest, path, err := readManifestIn(nested); manifest != nil || err != nil {
			return manifest, path, err
		}
	}
	return nil, "", NewManifestNotFoundError(dir)
}

func readManifestIn(dir string) (*PluginManifest, string, error) {
	for _, name := range manifestFileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, "", NewFilesystemFailureError(path, err)
		}
		manifest, parseErr := ParseManifest(data)
		if parseErr != nil {
			return nil, "", parseErr
		}
		return manifest, path, nil
	}
	return nil, "", nil
}
