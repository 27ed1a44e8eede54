// Package compression wraps zstd for on-disk artifacts and datasets.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Extension marks zstd compressed files.
const Extension = ".zst"

func IsCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), Extension)
}

func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd: failed to create writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("zstd: failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zstd: failed to flush: %w", err)
	}
	return buf.Bytes(), nil
}

func Decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zstd: failed to create reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zstd: failed to decompress: %w", err)
	}
	return out, nil
}

// ReadFile reads path, decompressing it when it ends in .zst.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if IsCompressed(path) {
		return Decompress(data)
	}
	return data, nil
}

// WriteFile writes data to path, compressing it when it ends in .zst.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if IsCompressed(path) {
		var err error
		if data, err = Compress(data); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, perm)
}
