// Package journal appends human-readable records of excluded files and job
// failures to the run's log files.
//
// Both journals are append-only and safe for concurrent use. Files are opened
// per write so a journal never holds a descriptor across a long batch.
package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"idmark/internal/pool"
)

const timestampLayout = "2006-01-02 15:04:05"

// Journal is an append-only text log.
type Journal struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open returns a journal writing to path. The file is created lazily.
func Open(path string) *Journal {
	return &Journal{path: path, now: time.Now}
}

// Path returns the journal location.
func (j *Journal) Path() string { return j.path }

// RecordUnsupported notes a file the classifier rejected.
func (j *Journal) RecordUnsupported(path string) error {
	return j.append(fmt.Sprintf("Unsupported file format: %s\n", path))
}

// RecordError writes a timestamped entry with message and the error trace:
// the stack for recovered panics, otherwise the unwrapped error chain.
func (j *Journal) RecordError(message string, err error) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", j.now().Format(timestampLayout), message)
	if err != nil {
		b.WriteString(Trace(err))
	}
	b.WriteByte('\n')
	return j.append(b.String())
}

// Trace renders err for the error journal.
func Trace(err error) string {
	var panicErr *pool.PanicError
	if errors.As(err, &panicErr) {
		return fmt.Sprintf("%v\n%s", panicErr, strings.TrimRight(string(panicErr.Stack), "\n")) + "\n"
	}
	var b strings.Builder
	depth := 0
	for current := err; current != nil; current = errors.Unwrap(current) {
		fmt.Fprintf(&b, "%s%s\n", strings.Repeat("  ", depth), current.Error())
		depth++
		if depth > 16 {
			break
		}
	}
	return b.String()
}

func (j *Journal) append(entry string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if dir := filepath.Dir(j.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("journal directory: %w", err)
		}
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := file.WriteString(entry); err != nil {
		file.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	return file.Close()
}
