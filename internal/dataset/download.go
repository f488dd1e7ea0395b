package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	getter "github.com/hashicorp/go-getter"
)

// Size selects a published subset of the dataset.
type Size string

const (
	SizeMini Size = "mini"
	SizeBase Size = "base"
	SizeFull Size = "full"
)

// ParseSize validates a size name.
func ParseSize(s string) (Size, error) {
	switch Size(s) {
	case SizeMini, SizeBase, SizeFull:
		return Size(s), nil
	}
	return "", fmt.Errorf("unknown dataset size %q (want mini, base or full)", s)
}

// Source locates one dataset subset.
type Source struct {
	// ManifestURL is the JSON manifest listing every file of the subset.
	ManifestURL string
	// ManifestFile is the name the manifest is stored under.
	ManifestFile string
	// BaseURL is prefixed to manifest file names to fetch them.
	BaseURL string
}

const (
	manifestRoot = "https://raw.githubusercontent.com/Thinklab-SJTU/Bench2Drive/main/docs/"
	hubRoot      = "https://huggingface.co/datasets/rethinklab/"
)

// DefaultSources are the published subsets.
var DefaultSources = map[Size]Source{
	SizeMini: {
		ManifestURL:  manifestRoot + "bench2drive_mini_10.json",
		ManifestFile: "bench2drive_mini.json",
		BaseURL:      hubRoot + "Bench2Drive/resolve/main/",
	},
	SizeBase: {
		ManifestURL:  manifestRoot + "bench2drive_base_1000.json",
		ManifestFile: "bench2drive_base.json",
		BaseURL:      hubRoot + "Bench2Drive/resolve/main/",
	},
	SizeFull: {
		ManifestURL:  manifestRoot + "bench2drive_full+sup_13638.json",
		ManifestFile: "bench2drive_full.json",
		BaseURL:      hubRoot + "Bench2Drive-Full/resolve/main/",
	},
}

// Downloader fetches, validates and unpacks a dataset subset.
type Downloader struct {
	sources map[Size]Source
	logger  *slog.Logger
}

// NewDownloader returns a Downloader. Nil sources means DefaultSources.
func NewDownloader(sources map[Size]Source, logger *slog.Logger) *Downloader {
	if sources == nil {
		sources = DefaultSources
	}
	return &Downloader{sources: sources, logger: logger}
}

// Dir returns the directory a subset is stored in: base with the size
// appended.
func Dir(base string, size Size) string {
	return base + "-" + string(size)
}

// Download fetches the manifest and every file it lists into
// Dir(base, size), validates all of them and then unpacks the archives.
// Files that already match the manifest are not fetched again.
func (d *Downloader) Download(ctx context.Context, base string, size Size) (string, error) {
	src, ok := d.sources[size]
	if !ok {
		return "", fmt.Errorf("no source for dataset size %q", size)
	}
	dir := Dir(base, size)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dataset directory: %w", err)
	}

	manifestPath := filepath.Join(dir, src.ManifestFile)
	d.logger.Info("Fetching manifest", "url", src.ManifestURL)
	if err := fetch(ctx, src.ManifestURL, manifestPath); err != nil {
		return "", fmt.Errorf("failed to fetch manifest: %w", err)
	}
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return "", err
	}

	files := manifest.Files()
	d.logger.Info("Downloading dataset", "size", size, "dir", dir, "files", len(files))
	for i, name := range files {
		path := filepath.Join(dir, name)
		if manifest[name].Check(path) == nil {
			d.logger.Debug("Already downloaded", "file", name)
			continue
		}
		start := time.Now()
		if err := fetch(ctx, src.BaseURL+name, path); err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", name, err)
		}
		d.logger.Info("Downloaded",
			"file", name,
			"progress", fmt.Sprintf("%d/%d", i+1, len(files)),
			"duration", time.Since(start))
	}

	if err := manifest.Validate(dir); err != nil {
		return "", fmt.Errorf("dataset validation failed: %w", err)
	}
	d.logger.Info("Dataset validation successful")

	for _, name := range files {
		if !strings.HasSuffix(name, ArchiveExt) {
			continue
		}
		n, err := Extract(ctx, filepath.Join(dir, name), dir)
		if err != nil {
			return "", fmt.Errorf("failed to extract %s: %w", name, err)
		}
		d.logger.Debug("Extracted", "archive", name, "files", n)
	}
	return dir, nil
}

// fetch downloads a single file. Archives are stored as is; unpacking
// happens only after validation.
func fetch(ctx context.Context, src, dst string) error {
	pwd, err := os.Getwd()
	if err != nil {
		return err
	}
	client := &getter.Client{
		Ctx:           ctx,
		Src:           src,
		Dst:           dst,
		Pwd:           pwd,
		Mode:          getter.ClientModeFile,
		Decompressors: map[string]getter.Decompressor{},
	}
	return client.Get()
}
