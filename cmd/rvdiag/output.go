package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdFile closes the encoder before the file so the frame is complete.
type zstdFile struct {
	*zstd.Encoder
	file *os.File
}

func (z *zstdFile) Close() error {
	if err := z.Encoder.Close(); err != nil {
		_ = z.file.Close()
		return fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return z.file.Close()
}

// openOutput creates the report file: a zstd stream for paths ending in
// .zst and a plain file otherwise.
func openOutput(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	if !isZstd(path) {
		return f, nil
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return &zstdFile{Encoder: enc, file: f}, nil
}

func isZstd(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zst")
}
