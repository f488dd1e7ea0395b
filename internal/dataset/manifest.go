// Package dataset fetches the recorded driving dataset, checks it against
// its published manifest and unpacks the route archives.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

var (
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrChecksumMismatch = errors.New("sha256 mismatch")
)

// Entry is the expected size and digest of one dataset file.
type Entry struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest maps file names, relative to the dataset directory, to their
// expected entry.
type Manifest map[string]Entry

// LoadManifest reads a JSON manifest.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	return m, nil
}

// Files returns the manifest's file names, sorted.
func (m Manifest) Files() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check verifies that path has the entry's size and digest.
func (e Entry) Check(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != e.Size {
		return fmt.Errorf("%s: %w: expected %d, got %d", filepath.Base(path), ErrSizeMismatch, e.Size, info.Size())
	}

	sum, err := fileSHA256(path)
	if err != nil {
		return err
	}
	if sum != e.SHA256 {
		return fmt.Errorf("%s: %w: expected %s, got %s", filepath.Base(path), ErrChecksumMismatch, e.SHA256, sum)
	}
	return nil
}

// Validate checks every manifest entry under dir and stops at the first
// mismatch.
func (m Manifest) Validate(dir string) error {
	for _, name := range m.Files() {
		if err := m[name].Check(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
