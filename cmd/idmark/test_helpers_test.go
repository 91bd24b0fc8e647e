package main

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"idmark/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	workDir    string
	dropDir    string
	configPath string
	history    string
}

func setupCLITestEnv(t *testing.T, historyEnabled bool) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("IDMARK_NTFY_TOPIC", "")
	t.Setenv("IDMARK_FFMPEG", "")
	t.Setenv("IDMARK_FFPROBE", "")
	t.Chdir(base)

	bin := filepath.Join(base, "bin")
	ffmpeg := testsupport.WriteScript(t, filepath.Join(bin, "ffmpeg"), "exit 0\n")
	ffprobe := testsupport.WriteScript(t, filepath.Join(bin, "ffprobe"), "exit 0\n")

	work := filepath.Join(base, "work")
	testsupport.WritePNG(t, filepath.Join(work, "watermark.png"), 4, 4, color.White)

	env := &cliTestEnv{
		baseDir:    base,
		workDir:    work,
		dropDir:    filepath.Join(base, "drop"),
		configPath: filepath.Join(base, "idmark.toml"),
		history:    filepath.Join(base, "state", "history.db"),
	}
	content := fmt.Sprintf(`[paths]
work_dir = %q
log_dir = %q

[tools]
ffmpeg = %q
ffprobe = %q
nvidia_smi = "clearly-not-present-binary"

[logging]
level = "error"

[history]
enabled = %t
path = %q
keep_runs = 10
`, work, filepath.Join(base, "logs"), ffmpeg, ffprobe, historyEnabled, env.history)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
