package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
)

// Export file format:
//
//	magic "FKV1" (uncompressed)
//	zstd stream of entries: uvarint key length, key, uvarint value length, value
var exportMagic = [4]byte{'F', 'K', 'V', '1'}

// maxExportFieldLen bounds key and value lengths read from an export file
// so a corrupt length cannot trigger a huge allocation.
const maxExportFieldLen = 1 << 30

// Export writes every live key/value pair to path, replacing any existing
// file atomically. Returns the number of pairs written.
//
// Each pair is read consistently, but pairs written during Export may or
// may not be included.
//
// Possible errors: [ErrClosed], I/O errors.
func (s *Store) Export(path string) (int, error) {
	var buf bytes.Buffer

	buf.Write(exportMagic[:])

	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return 0, fmt.Errorf("export: create encoder: %w", err)
	}

	count := 0
	lenBuf := make([]byte, binary.MaxVarintLen64)

	var writeErr error

	err = s.Range(func(key, value []byte) bool {
		for _, field := range [][]byte{key, value} {
			n := binary.PutUvarint(lenBuf, uint64(len(field)))

			if _, writeErr = enc.Write(lenBuf[:n]); writeErr != nil {
				return false
			}

			if _, writeErr = enc.Write(field); writeErr != nil {
				return false
			}
		}

		count++

		return true
	})
	if err != nil {
		_ = enc.Close()

		return 0, err
	}

	if writeErr != nil {
		_ = enc.Close()

		return 0, fmt.Errorf("export: compress: %w", writeErr)
	}

	err = enc.Close()
	if err != nil {
		return 0, fmt.Errorf("export: finish stream: %w", err)
	}

	err = atomic.WriteFile(path, &buf)
	if err != nil {
		return 0, fmt.Errorf("export: write %s: %w", path, err)
	}

	s.log.Info("store exported", slog.String("path", path), slog.Int("pairs", count))

	return count, nil
}

// Import reads a file written by [Store.Export] and Puts every pair.
// Returns the number of pairs imported. On error, pairs read before the
// error remain in the store.
//
// Possible errors: [ErrClosed], [ErrCorrupt], [ErrFull], I/O errors.
func (s *Store) Import(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [4]byte

	_, err = io.ReadFull(r, magic[:])
	if err != nil || magic != exportMagic {
		return 0, fmt.Errorf("import %s: bad magic: %w", path, ErrCorrupt)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w: %w", path, ErrCorrupt, err)
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	count := 0

	for {
		key, eof, readErr := readField(br, true)
		if readErr != nil {
			return count, fmt.Errorf("import %s: pair %d key: %w", path, count, readErr)
		}

		if eof {
			break
		}

		value, _, readErr := readField(br, false)
		if readErr != nil {
			return count, fmt.Errorf("import %s: pair %d value: %w", path, count, readErr)
		}

		err = s.Put(key, value)
		if err != nil {
			return count, fmt.Errorf("import %s: %w", path, err)
		}

		count++
	}

	s.log.Info("store imported", slog.String("path", path), slog.Int("pairs", count))

	return count, nil
}

// readField reads one length-prefixed field. When eofOK is set, a clean end
// of stream before the length is reported as eof instead of an error.
func readField(r *bufio.Reader, eofOK bool) ([]byte, bool, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		if eofOK && errors.Is(err, io.EOF) {
			return nil, true, nil
		}

		return nil, false, fmt.Errorf("read length: %w: %w", ErrCorrupt, err)
	}

	if n > maxExportFieldLen {
		return nil, false, fmt.Errorf("field length %d exceeds %d: %w", n, maxExportFieldLen, ErrCorrupt)
	}

	field := make([]byte, n)

	_, err = io.ReadFull(r, field)
	if err != nil {
		return nil, false, fmt.Errorf("read %d bytes: %w: %w", n, ErrCorrupt, err)
	}

	return field, false, nil
}
