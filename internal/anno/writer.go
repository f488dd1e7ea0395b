package anno

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/b2d-phantom/recorder/pkg/core"
)

// WriteFrame writes frame as gzip-compressed JSON, creating parent
// directories as needed.
func WriteFrame(path string, frame *core.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode annotation: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create annotation directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create annotation file: %w", err)
	}

	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write annotation: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return f.Close()
}

// FrameFileName returns the zero-padded annotation file name for a frame.
func FrameFileName(frameIdx int) string {
	return fmt.Sprintf("%05d.json.gz", frameIdx)
}
