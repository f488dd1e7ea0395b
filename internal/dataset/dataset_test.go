package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type tarEntry struct {
	name string
	body string
	dir  bool
}

func buildArchive(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func entryFor(data []byte) Entry {
	sum := sha256.Sum256(data)
	return Entry{Size: int64(len(data)), SHA256: hex.EncodeToString(sum[:])}
}

func TestParseSize(t *testing.T) {
	for _, s := range []string{"mini", "base", "full"} {
		got, err := ParseSize(s)
		require.NoError(t, err)
		assert.Equal(t, Size(s), got)
	}
	_, err := ParseSize("huge")
	assert.Error(t, err)
	assert.Equal(t, "data/B2D-mini", Dir("data/B2D", SizeMini))
}

func TestManifestValidate(t *testing.T) {
	dir := t.TempDir()
	data := []byte("route archive")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tar.gz"), data, 0o644))

	m := Manifest{"a.tar.gz": entryFor(data)}
	assert.NoError(t, m.Validate(dir))

	bad := m["a.tar.gz"]
	bad.Size++
	assert.ErrorIs(t, Manifest{"a.tar.gz": bad}.Validate(dir), ErrSizeMismatch)

	bad = m["a.tar.gz"]
	bad.SHA256 = "00"
	assert.ErrorIs(t, Manifest{"a.tar.gz": bad}.Validate(dir), ErrChecksumMismatch)

	m["missing.tar.gz"] = entryFor(data)
	assert.ErrorIs(t, m.Validate(dir), os.ErrNotExist)
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"b.tar.gz":{"size":3,"sha256":"ab"},"a.tar.gz":{"size":1,"sha256":"cd"}}`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tar.gz", "b.tar.gz"}, m.Files())
	assert.Equal(t, Entry{Size: 3, SHA256: "ab"}, m["b.tar.gz"])

	require.NoError(t, os.WriteFile(path, []byte("["), 0o644))
	_, err = LoadManifest(path)
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "route.tar.gz")
	require.NoError(t, os.WriteFile(archive, buildArchive(t,
		tarEntry{name: "Route_Town01/", dir: true},
		tarEntry{name: "Route_Town01/anno/00000.json.gz", body: "frame"},
		tarEntry{name: "Route_Town01/camera/rgb/00000.jpg", body: "jpeg"},
	), 0o644))

	out := filepath.Join(dir, "out")
	n, err := Extract(context.Background(), archive, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := os.ReadFile(filepath.Join(out, "Route_Town01", "anno", "00000.json.gz"))
	require.NoError(t, err)
	assert.Equal(t, "frame", string(got))
}

func TestExtract_RejectsTraversal(t *testing.T) {
	for _, name := range []string{"../escape.txt", "a/../../escape.txt", "/etc/escape.txt"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "evil.tar.gz")
			require.NoError(t, os.WriteFile(archive, buildArchive(t, tarEntry{name: name, body: "x"}), 0o644))

			_, err := Extract(context.Background(), archive, filepath.Join(dir, "out"))
			assert.ErrorIs(t, err, ErrUnsafePath)
			assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
		})
	}
}

func TestExtract_NotGzip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "plain.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("plain"), 0o644))
	_, err := Extract(context.Background(), archive, t.TempDir())
	assert.ErrorContains(t, err, "not gzip")
}

func serveDataset(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	for name, data := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(root, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, name), data, 0o644))
	}
	srv := httptest.NewServer(http.FileServer(http.Dir(root)))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	archive := buildArchive(t,
		tarEntry{name: "Accident_Town03_Route156_Weather0/anno/00000.json.gz", body: "frame"},
	)
	manifest, err := json.Marshal(Manifest{"Accident_Town03_Route156_Weather0.tar.gz": entryFor(archive)})
	require.NoError(t, err)

	srv := serveDataset(t, map[string][]byte{
		"docs/mini.json": manifest,
		"files/Accident_Town03_Route156_Weather0.tar.gz": archive,
	})
	d := NewDownloader(map[Size]Source{
		SizeMini: {
			ManifestURL:  srv.URL + "/docs/mini.json",
			ManifestFile: "mini.json",
			BaseURL:      srv.URL + "/files/",
		},
	}, quietLogger())

	base := filepath.Join(t.TempDir(), "B2D")
	dir, err := d.Download(context.Background(), base, SizeMini)
	require.NoError(t, err)
	assert.Equal(t, base+"-mini", dir)
	assert.FileExists(t, filepath.Join(dir, "mini.json"))
	assert.FileExists(t, filepath.Join(dir, "Accident_Town03_Route156_Weather0.tar.gz"))
	assert.FileExists(t, filepath.Join(dir, "Accident_Town03_Route156_Weather0", "anno", "00000.json.gz"))

	_, err = d.Download(context.Background(), base, SizeFull)
	assert.Error(t, err)
}

func TestDownload_ValidationFailure(t *testing.T) {
	archive := buildArchive(t, tarEntry{name: "r/anno/00000.json.gz", body: "frame"})
	entry := entryFor(archive)
	entry.SHA256 = hex.EncodeToString(make([]byte, sha256.Size))
	manifest, err := json.Marshal(Manifest{"r.tar.gz": entry})
	require.NoError(t, err)

	srv := serveDataset(t, map[string][]byte{
		"m.json":   manifest,
		"r.tar.gz": archive,
	})
	d := NewDownloader(map[Size]Source{
		SizeBase: {ManifestURL: srv.URL + "/m.json", ManifestFile: "m.json", BaseURL: srv.URL + "/"},
	}, quietLogger())

	dir := filepath.Join(t.TempDir(), "B2D")
	_, err = d.Download(context.Background(), dir, SizeBase)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.NoDirExists(t, filepath.Join(dir+"-base", "r"), "nothing is unpacked before validation passes")
}
