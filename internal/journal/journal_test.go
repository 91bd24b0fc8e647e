package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"idmark/internal/pool"
	"idmark/internal/services"
)

func TestRecordUnsupportedAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unsupported_files.log")
	j := Open(path)
	for _, name := range []string{"/drop/notes.txt", "/drop/archive.zip"} {
		if err := j.RecordUnsupported(name); err != nil {
			t.Fatalf("RecordUnsupported: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "Unsupported file format: /drop/notes.txt\nUnsupported file format: /drop/archive.zip\n"
	if string(data) != want {
		t.Fatalf("journal = %q, want %q", data, want)
	}
}

func TestRecordErrorIncludesTimestampAndChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")
	j := Open(path)
	j.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	base := errors.New("exit status 1")
	err := services.Wrap(services.ErrExternalTool, "watermark", "ffmpeg", "overlay clip.mov", base)
	if err := j.RecordError("Error processing clip.mov", err); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	data, _ := os.ReadFile(path)
	text := string(data)
	if !strings.HasPrefix(text, "2026-03-04 05:06:07: Error processing clip.mov\n") {
		t.Fatalf("unexpected header: %q", text)
	}
	if !strings.Contains(text, "overlay clip.mov") || !strings.Contains(text, "exit status 1") {
		t.Fatalf("expected error chain in %q", text)
	}
}

func TestTracePrefersPanicStack(t *testing.T) {
	err := fmt.Errorf("images: %w", &pool.PanicError{Value: "boom", Stack: []byte("goroutine 7 [running]:\nmain.job()\n")})
	trace := Trace(err)
	if !strings.Contains(trace, "job panicked: boom") || !strings.Contains(trace, "goroutine 7 [running]") {
		t.Fatalf("unexpected trace %q", trace)
	}
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")
	j := Open(path)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = j.RecordError(fmt.Sprintf("failure %d", i), errors.New("line one"))
		}(i)
	}
	wg.Wait()
	data, _ := os.ReadFile(path)
	entries := strings.Split(strings.TrimSpace(string(data)), "\n\n")
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(entries))
	}
	for _, entry := range entries {
		lines := strings.Split(entry, "\n")
		if len(lines) != 2 || !strings.Contains(lines[0], ": failure ") || lines[1] != "line one" {
			t.Fatalf("interleaved entry: %q", entry)
		}
	}
}
