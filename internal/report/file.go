package report

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BadgerOps/cvmfs-scraper/internal/safety"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// maxReportSize bounds a decompressed report read back from disk.
const maxReportSize = 256 * 1024 * 1024

// Compression is the encoding of a report file, picked from its extension.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionXZ   Compression = "xz"
	CompressionZstd Compression = "zstd"
)

// CompressionFor maps a file name to its compression: .gz, .xz and .zst are
// recognised; anything else is written as-is.
func CompressionFor(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(path, ".xz"):
		return CompressionXZ
	case strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	}
	return CompressionNone
}

// WriteFile writes r as JSON to path, compressed according to the
// extension. The file is written to a temporary name and renamed into
// place once complete.
func WriteFile(path string, r *Report) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	w, err := compressWriter(f, CompressionFor(path))
	if err != nil {
		cleanup()
		return err
	}
	if err := WriteJSON(w, r); err != nil {
		_ = w.Close()
		cleanup()
		return err
	}
	if err := w.Close(); err != nil {
		cleanup()
		return fmt.Errorf("finishing compressed stream: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing report file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming report file: %w", err)
	}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return zw, nil
	}
	return nopWriteCloser{w}, nil
}

// ReadFile returns the JSON stored in a report file. The compression is
// detected from the content, not the name.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report file: %w", err)
	}
	return decompress(data)
}

// decompress detects the compression format by magic number and
// decompresses. Uncompressed data is returned as-is.
func decompress(data []byte) ([]byte, error) {
	var (
		r    io.Reader
		name string
	)
	switch {
	// Zstd magic number: 28 b5 2f fd
	case bytes.HasPrefix(data, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer decoder.Close()
		r, name = decoder, "zstd"
	// XZ magic number: fd 37 7a 58 5a 00
	case bytes.HasPrefix(data, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}):
		reader, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		r, name = reader, "xz"
	// Gzip magic number: 1f 8b
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer func() {
			_ = reader.Close()
		}()
		r, name = reader, "gzip"
	default:
		return data, nil
	}

	out, err := safety.ReadAllWithLimit(r, maxReportSize)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("%s payload exceeded %d bytes after decompression: %w", name, maxReportSize, err)
		}
		return nil, fmt.Errorf("decompressing %s: %w", name, err)
	}
	return out, nil
}
