package cli

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cleanEnv drops every pipe variable so a developer's shell cannot leak in.
func cleanEnv() []string {
	prefixes := []string{"OPENQUALITYCHECKER_", "BITBUCKET_", "DEBUG="}
	out := make([]string, 0, len(os.Environ()))
	for _, e := range os.Environ() {
		skip := false
		for _, p := range prefixes {
			if strings.HasPrefix(e, p) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, e)
		}
	}
	return out
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	// internal/cli -> repo root
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func goExe() string {
	if runtime.GOOS == "windows" {
		return "go.exe"
	}
	return "go"
}

func buildPipeBinary(t *testing.T) string {
	t.Helper()

	outPath := filepath.Join(t.TempDir(), "oqc-pipe-test")
	if runtime.GOOS == "windows" {
		outPath += ".exe"
	}

	cmd := exec.Command(goExe(), "build", "-o", outPath, "./cmd/oqc-pipe")
	cmd.Dir = repoRoot(t)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build oqc-pipe binary: %v; output=%s", err, string(out))
	}

	return outPath
}

func exitCode(t *testing.T, err error, out []byte) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T: %v; output=%s", err, err, string(out))
	}
	return exitErr.ProcessState.ExitCode()
}

func TestRoot_ExitCode1_WhenRequiredConfigMissing(t *testing.T) {
	binary := buildPipeBinary(t)
	cmd := exec.Command(binary)
	cmd.Env = cleanEnv()

	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err, out); code != 1 {
		t.Fatalf("expected exit code 1, got %d; output=%s", code, string(out))
	}
	for _, v := range []string{"OPENQUALITYCHECKER_ACCESS_TOKEN", "OPENQUALITYCHECKER_PROJECT_NAME"} {
		if !strings.Contains(string(out), v) {
			t.Fatalf("expected %s to be reported; output=%s", v, string(out))
		}
	}
}

func TestRoot_ExitCode1_WhenOutFormatCannotBeInferred(t *testing.T) {
	binary := buildPipeBinary(t)
	cmd := exec.Command(binary, "--token", "tok", "--project", "alpha", "--out", "results.unknown")
	cmd.Env = cleanEnv()

	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err, out); code != 1 {
		t.Fatalf("expected exit code 1, got %d; output=%s", code, string(out))
	}
	if !strings.Contains(string(out), "cannot infer output format") {
		t.Fatalf("expected output format inference error; output=%s", string(out))
	}
}

func TestRoot_FlagsSatisfyRequiredConfig(t *testing.T) {
	// Nothing listens on port 1, so the run gets past configuration and
	// fails on the projects listing instead.
	binary := buildPipeBinary(t)
	cmd := exec.Command(binary, "--token", "tok", "--project", "alpha", "--base-url", "http://127.0.0.1:1")
	cmd.Env = cleanEnv()

	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err, out); code != 1 {
		t.Fatalf("expected exit code 1, got %d; output=%s", code, string(out))
	}
	if strings.Contains(string(out), "missing required configuration") {
		t.Fatalf("flags must satisfy required configuration; output=%s", string(out))
	}
	if !strings.Contains(string(out), "OpenQualityChecker not available, please try again later") {
		t.Fatalf("expected availability error; output=%s", string(out))
	}
}

func TestRoot_Help_DocumentsOutputAndExitCodes(t *testing.T) {
	binary := buildPipeBinary(t)
	cmd := exec.Command(binary, "--help")

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("expected zero exit; err=%v; output=%s", err, string(out))
	}

	s := string(out)
	required := []string{
		"Environment:",
		"OPENQUALITYCHECKER_ACCESS_TOKEN",
		"Output:",
		"Exit codes:",
		"project.verdict",
		"run.finished",
	}
	for _, r := range required {
		if !strings.Contains(s, r) {
			t.Fatalf("expected --help to contain %q; output=%s", r, s)
		}
	}
}

func TestVersion_PrintsBuildInfo(t *testing.T) {
	binary := buildPipeBinary(t)
	cmd := exec.Command(binary, "version")

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("expected zero exit; err=%v; output=%s", err, string(out))
	}
	if !strings.HasPrefix(string(out), "oqc-pipe dev\n") {
		t.Fatalf("unexpected version output: %s", string(out))
	}
}
