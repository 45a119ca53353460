/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package archive extracts uploaded workspace tar.gz archives onto an afero
// filesystem and locates the devcontainer.json inside them.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// maxArchiveBytes caps the total decompressed size of one upload.
const maxArchiveBytes = 1 << 30 // 1 GiB

// ErrNoDevcontainer is returned when an extracted workspace contains no
// devcontainer.json anywhere in its tree.
var ErrNoDevcontainer = errors.New("no devcontainer.json found in workspace")

// IsGzip reports whether data starts with the gzip magic bytes. Used for
// the synchronous request validation before an upload is accepted.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Extract unpacks a gzip-compressed tar stream under dir. Entries escaping
// dir are rejected; total decompressed size is capped.
func Extract(fsys afero.Fs, r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("workspace archive is not gzip-compressed: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read workspace archive: %w", err)
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if total += hdr.Size; total > maxArchiveBytes {
				return fmt.Errorf("workspace archive exceeds %d bytes", int64(maxArchiveBytes))
			}
			if err := writeFile(fsys, target, tr, hdr.Size); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		default:
			// Symlinks, devices and the rest are skipped: nothing the build
			// needs, and symlinks could point outside the workspace.
		}
	}
}

// FindDevcontainerJSON walks the extracted tree and returns the path of the
// first devcontainer.json found.
func FindDevcontainerJSON(fsys afero.Fs, root string) (string, error) {
	var found string
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if found == "" && !info.IsDir() && info.Name() == "devcontainer.json" {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan workspace: %w", err)
	}
	if found == "" {
		return "", ErrNoDevcontainer
	}
	return found, nil
}

// safeJoin joins name under dir, rejecting entries that would escape it.
func safeJoin(dir, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace archive entry %q escapes extraction directory", name)
	}
	return filepath.Join(dir, cleaned), nil
}

func writeFile(fsys afero.Fs, target string, r io.Reader, size int64) error {
	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := fsys.Create(target)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.CopyN(f, r, size)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return err
}
