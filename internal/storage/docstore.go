// Package storage implements the indexer's local split artifacts: a
// zstd-compressing document store writer for the in-progress split, and a
// byte/count-capped local cache for downloaded splits the merge executor
// reads back.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// DocStoreConfig mirrors the spec's docstore tuning knobs (§6):
// docstore_blocksize groups documents into blocks before they're flushed to
// the underlying writer, and docstore_compression_level sets the zstd
// encoder's level.
type DocStoreConfig struct {
	BlockSize        int
	CompressionLevel int
}

// DocStoreWriter implements model.DocWriter: it serializes each document to
// JSON, compresses it with zstd, and buffers writes in blocks of
// BlockSize documents before they hit the underlying file. This is
// indexcore's concrete stand-in for the segment builder's document store,
// which the core spec treats as an external collaborator.
type DocStoreWriter struct {
	file     *os.File
	buffered *bufio.Writer
	encoder  *zstd.Encoder
	cfg      DocStoreConfig

	docsInBlock int
}

// encoderLevel maps the spec's docstore_compression_level (a small integer,
// 1-22 as in the zstd CLI) onto the library's coarser speed/ratio tiers.
func encoderLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 12:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// NewDocStoreWriter creates the backing file under scratchDir and wires up
// its zstd encoder at the configured compression level.
func NewDocStoreWriter(scratchDir, splitID string, cfg DocStoreConfig) (*DocStoreWriter, error) {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 1000
	}
	path := filepath.Join(scratchDir, splitID+".docstore")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("docstore: create %s: %w", path, err)
	}

	buffered := bufio.NewWriter(f)
	enc, err := zstd.NewWriter(buffered, zstd.WithEncoderLevel(encoderLevel(cfg.CompressionLevel)))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("docstore: new zstd encoder: %w", err)
	}

	return &DocStoreWriter{file: f, buffered: buffered, encoder: enc, cfg: cfg}, nil
}

// AddDocument writes one document's JSON encoding through the zstd stream.
// Block boundaries only matter for eventual random-access seeking by a
// downstream reader (out of core scope); here they just flush the zstd
// encoder into the buffered writer every BlockSize documents. The bytes
// reach the file when the bufio buffer fills or on Commit.
func (w *DocStoreWriter) AddDocument(fields map[string]any) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("docstore: marshal document: %w", err)
	}
	if _, err := w.encoder.Write(b); err != nil {
		return fmt.Errorf("docstore: write document: %w", err)
	}
	if _, err := w.encoder.Write([]byte("\n")); err != nil {
		return fmt.Errorf("docstore: write separator: %w", err)
	}

	w.docsInBlock++
	if w.docsInBlock >= w.cfg.BlockSize {
		if err := w.encoder.Flush(); err != nil {
			return fmt.Errorf("docstore: flush block: %w", err)
		}
		w.docsInBlock = 0
	}
	return nil
}

// Commit flushes and closes the zstd stream and the underlying buffer
// without closing the file handle, so a caller can still fsync or reopen it
// read-only afterward.
func (w *DocStoreWriter) Commit() error {
	if err := w.encoder.Close(); err != nil {
		return fmt.Errorf("docstore: close encoder: %w", err)
	}
	if err := w.buffered.Flush(); err != nil {
		return fmt.Errorf("docstore: flush buffer: %w", err)
	}
	return nil
}

// Close releases the underlying file handle. Safe to call after Commit, or
// instead of it on an aborted split.
func (w *DocStoreWriter) Close() error {
	return w.file.Close()
}

// OpenDocStoreReader opens a previously committed docstore file for
// streaming decompression, e.g. by the merge executor reading a split's
// documents back out.
func OpenDocStoreReader(path string) (*DocStoreReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("docstore: new zstd decoder: %w", err)
	}
	return &DocStoreReader{file: f, decoder: dec}, nil
}

type DocStoreReader struct {
	file    *os.File
	decoder *zstd.Decoder
}

// Reader exposes the decompressed document stream for a caller to scan with
// their own framing (each document is newline-terminated JSON).
func (r *DocStoreReader) Reader() io.Reader { return r.decoder }

func (r *DocStoreReader) Close() error {
	r.decoder.Close()
	return r.file.Close()
}
