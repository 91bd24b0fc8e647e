package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"idmark/internal/batch"
	"idmark/internal/config"
	"idmark/internal/media"
	"idmark/internal/services"
)

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{7 * time.Second, "7s"},
		{59600 * time.Millisecond, "1m00s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
	}
	for _, tc := range cases {
		if got := formatElapsed(tc.in); got != tc.want {
			t.Errorf("formatElapsed(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPhaseTitle(t *testing.T) {
	if got := phaseTitle(batch.PhaseVideos); got != "Videos" {
		t.Fatalf("phaseTitle = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 10); len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Fatalf("unexpected %q", got)
	}
}

func TestShouldColorizeRejectsNonFiles(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestWaitForAcknowledgementSkipsNonTerminal(t *testing.T) {
	var out bytes.Buffer
	waitForAcknowledgement(strings.NewReader("\n"), &out, false)
	if out.Len() != 0 {
		t.Fatalf("non-terminal input must not prompt, got %q", out.String())
	}
}

func TestWriteReportListsFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.ErrorLog = "/work/error.log"
	item := media.NewItem(3, "/drop/clip.mov")
	report := &batch.Report{
		Duration: 2 * time.Second,
		Codec:    "libx264",
		Items: []media.JobResult{
			media.Failed(item, batch.PhaseVideos, services.Wrap(services.ErrExternalTool, "videos", "ffmpeg", "overlay", errors.New("exit status 1")), time.Now()),
		},
		Phases: []batch.PhaseSummary{{Name: batch.PhaseVideos, Total: 1, Failed: 1, Duration: time.Second}},
	}

	var out bytes.Buffer
	writeReport(&out, report, &cfg, false)
	text := out.String()
	for _, want := range []string{"Videos", "clip.mov", "external_tool", "0 done, 1 failed", "Video codec: libx264", "Errors logged to /work/error.log"} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}
}

func TestWriteHistoryEmpty(t *testing.T) {
	var out bytes.Buffer
	writeHistory(&out, nil)
	if !strings.Contains(out.String(), "No runs recorded") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
