package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AppendLog is an append-only log file safe to tail concurrently with
// writes. An AppendLog with no file is a no-op.
type AppendLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewAppendLog opens a log file for appending, creating parent
// directories as needed. An empty path returns a no-op log.
func NewAppendLog(path string) (*AppendLog, error) {
	if path == "" {
		return &AppendLog{}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &AppendLog{file: f}, nil
}

// NopLog returns a no-op log for testing or when logging is disabled.
func NopLog() *AppendLog {
	return &AppendLog{}
}

// Logf writes one timestamped line.
func (l *AppendLog) Logf(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format(time.RFC3339)
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, msg)
	l.file.Sync()
}

// AppendJSON writes one value as a single JSON line.
func (l *AppendLog) AppendJSON(v interface{}) error {
	if l == nil || l.file == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	return l.file.Sync()
}

// Close closes the log file. Safe to call on a no-op log.
func (l *AppendLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
