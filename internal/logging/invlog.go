package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// InvestigationLogMaxSize is the rotation threshold for per-investigation
// log files.
const InvestigationLogMaxSize = 50 * 1024 * 1024 // 50 MiB

// InvestigationLog is the single sequential writer for one
// investigation's log file. The file is created lazily in the
// investigation folder on first write; every write is flushed
// synchronously. Entries within one investigation are totally ordered;
// across investigations no ordering is promised.
type InvestigationLog struct {
	mu     sync.Mutex
	dir    string
	path   string
	file   *os.File
	closed bool
	seq    int // rotation counter
}

// NewInvestigationLog prepares a log handle rooted in the investigation
// folder. No file is created until the first write.
func NewInvestigationLog(investigationDir, investigationID string) *InvestigationLog {
	return &InvestigationLog{
		dir:  investigationDir,
		path: filepath.Join(investigationDir, fmt.Sprintf("investigation_%s.log", investigationID)),
	}
}

// Path returns the log file path (whether or not it exists yet).
func (l *InvestigationLog) Path() string {
	return l.path
}

// WriteLine appends one line and flushes it to disk. If the
// investigation folder disappeared mid-write, the situation is recorded
// to the process log and the investigation is not failed.
func (l *InvestigationLog) WriteLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.ensureOpen(); err != nil {
		slog.Default().Warn("investigation log unavailable, entry dropped",
			"path", l.path, "error", err)
		return
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		slog.Default().Warn("investigation log write failed",
			"path", l.path, "error", err)
		return
	}
	if err := l.file.Sync(); err != nil {
		slog.Default().Warn("investigation log sync failed",
			"path", l.path, "error", err)
		return
	}
	l.rotateIfNeeded()
}

func (l *InvestigationLog) ensureOpen() error {
	if l.file != nil {
		// The folder may have been removed underneath us.
		if _, err := os.Stat(l.dir); err != nil {
			l.file.Close()
			l.file = nil
			return fmt.Errorf("investigation folder gone: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create investigation folder: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open investigation log: %w", err)
	}
	l.file = file
	return nil
}

func (l *InvestigationLog) rotateIfNeeded() {
	info, err := l.file.Stat()
	if err != nil || info.Size() < InvestigationLogMaxSize {
		return
	}
	l.file.Close()
	l.file = nil
	l.seq++
	rotated := fmt.Sprintf("%s.%d", l.path, l.seq)
	if err := os.Rename(l.path, rotated); err != nil {
		slog.Default().Warn("investigation log rotation failed",
			"path", l.path, "error", err)
	}
}

// Close flushes and closes the file. Guaranteed to be called on every
// exit path (success, failure, cancellation); idempotent.
func (l *InvestigationLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		l.file = nil
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}
