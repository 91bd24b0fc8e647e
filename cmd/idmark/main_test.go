package main

import (
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"idmark/internal/services"
	"idmark/internal/testsupport"
)

func TestInitConfigWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, _, err := runCLI(t, []string{"--init-config", target}, "")
	if err != nil {
		t.Fatalf("init-config: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	requireContains(t, string(data), "[paths]")

	if _, _, err := runCLI(t, []string{"--init-config", target}, ""); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
}

func TestNoInputFilesIsAnError(t *testing.T) {
	env := setupCLITestEnv(t, false)
	_, _, err := runCLI(t, nil, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no input files") {
		t.Fatalf("expected missing input error, got %v", err)
	}
}

func TestBatchWatermarksStillsAndRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t, true)
	first := testsupport.WritePNG(t, filepath.Join(env.dropDir, "first.png"), 40, 30, color.Black)
	second := testsupport.WritePNG(t, filepath.Join(env.dropDir, "second.png"), 40, 30, color.Black)
	notes := filepath.Join(env.dropDir, "notes.txt")
	testsupport.WriteFile(t, notes, 10)

	out, _, err := runCLI(t, []string{"--no-wait", first, second, notes}, env.configPath)
	if err != nil {
		t.Fatalf("batch: %v\n%s", err, out)
	}
	requireContains(t, out, "Images")
	requireContains(t, out, "2 done, 0 failed, 0 skipped, 1 unsupported")
	requireContains(t, out, "Unsupported files listed in")

	for _, name := range []string{"first.png", "second.png"} {
		if _, err := os.Stat(filepath.Join(env.workDir, "images", name)); err != nil {
			t.Fatalf("expected watermarked %s: %v", name, err)
		}
	}
	unsupported, err := os.ReadFile(filepath.Join(env.workDir, "unsupported_files.log"))
	if err != nil {
		t.Fatalf("read unsupported log: %v", err)
	}
	requireContains(t, string(unsupported), "Unsupported file format: "+notes)

	out, _, err = runCLI(t, []string{"--history", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Unsupported")
	requireContains(t, out, "Started")
	if strings.Contains(out, "No runs recorded") {
		t.Fatalf("expected the run to be listed:\n%s", out)
	}
}

func TestBatchFailureSetsExitError(t *testing.T) {
	env := setupCLITestEnv(t, false)
	missing := filepath.Join(env.dropDir, "missing.png")

	out, _, err := runCLI(t, []string{"--no-wait", missing}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "1 file(s) failed") {
		t.Fatalf("expected failure exit, got %v", err)
	}
	requireContains(t, out, "missing.png")
	requireContains(t, out, "precondition")

	errorLog, readErr := os.ReadFile(filepath.Join(env.workDir, "error.log"))
	if readErr != nil {
		t.Fatalf("read error log: %v", readErr)
	}
	requireContains(t, string(errorLog), "Error processing "+missing)
}

func TestHistoryWhenDisabled(t *testing.T) {
	env := setupCLITestEnv(t, false)
	out, _, err := runCLI(t, []string{"--history", "3"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Run history is disabled")
}

func TestTestNotifySendsToConfiguredTopic(t *testing.T) {
	env := setupCLITestEnv(t, false)
	var titles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		titles = append(titles, r.Header.Get("Title"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("IDMARK_NTFY_TOPIC", srv.URL+"/idmark")

	out, _, err := runCLI(t, []string{"--test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Test notification sent")
	if len(titles) != 1 || titles[0] != "idmark - Test" {
		t.Fatalf("expected one test notification, got %q", titles)
	}
}

func TestTestNotifyWithoutTopicFails(t *testing.T) {
	env := setupCLITestEnv(t, false)
	out, _, err := runCLI(t, []string{"--test-notify"}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	requireContains(t, out, "Notification not sent")
}
