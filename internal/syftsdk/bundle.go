package syftsdk

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxBundleEntry caps a single decompressed entry
const maxBundleEntry = 1 << 30

// Bundle is the content of a bulk download keyed by the path the server
// stored each entry under, without a leading slash.
type Bundle map[string][]byte

// Get looks a path up regardless of a leading slash.
func (b Bundle) Get(path string) ([]byte, bool) {
	data, ok := b[strings.TrimLeft(path, "/")]
	return data, ok
}

// UnpackBundle reads the zip archive returned by a bulk download.
func UnpackBundle(data []byte) (Bundle, error) {
	// entry names are only used as lookup keys, never joined onto a directory
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}

	bundle := make(Bundle, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.UncompressedSize64 > maxBundleEntry {
			return nil, fmt.Errorf("%w: entry %s too large", ErrInvalidBundle, f.Name)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrInvalidBundle, f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxBundleEntry))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidBundle, f.Name, err)
		}

		bundle[strings.TrimLeft(f.Name, "/")] = content
	}
	return bundle, nil
}
