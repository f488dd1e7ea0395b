package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		want    string
	}{
		{"basic path", "logs", filepath.Join("logs", "phantom_recorder.20260212_213836.log")},
		{"relative path with dot", "./logs", filepath.Join(".", "logs", "phantom_recorder.20260212_213836.log")},
		{"absolute path", filepath.Join("/var", "log", "phantom"), filepath.Join("/var", "log", "phantom", "phantom_recorder.20260212_213836.log")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, "phantom_recorder", sessionStart))
		})
	}
}

func TestOpenSessionLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	path, f, err := OpenSessionLog(dir, "phantom_recorder", start)
	require.NoError(t, err)
	_, err = f.WriteString("first\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	again, f, err := OpenSessionLog(dir, "phantom_recorder", start)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, path, again)

	old, err := os.ReadFile(path + ".old")
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(old))

	fresh, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}
