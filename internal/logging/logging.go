// Package logging sets up the recorder's slog pipeline and the zerolog
// loggers used by the storage managers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogFilePath returns <logsDir>/<appName>.<YYYYMMDD_HHMMSS>.log.
func LogFilePath(logsDir, appName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", appName, sessionStart.Format("20060102_150405")),
	)
}

// OpenSessionLog creates logsDir and opens the session log file for
// appending. A file left over from a session that started in the same
// second is moved aside to <path>.old.
func OpenSessionLog(logsDir, appName string, sessionStart time.Time) (string, *os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	path := LogFilePath(logsDir, appName, sessionStart)
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".old"); err != nil {
			return path, nil, fmt.Errorf("failed to move old log aside: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return path, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return path, f, nil
}
