package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func Test_Run_NoArgsPrintsUsage(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	exitCode := Run(nil, &stdout, &stderr, []string{"mv2tool"}, nil)

	if exitCode != 0 {
		t.Fatalf("exit code = %d, want 0", exitCode)
	}
	if !strings.Contains(stdout.String(), "mv2tool - manage .mv2 memory vault files") {
		t.Errorf("stdout = %q, want usage banner", stdout.String())
	}
}

func Test_Run_UnknownCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	exitCode := Run(nil, &stdout, &stderr, []string{"mv2tool", "frobnicate"}, nil)

	if exitCode != 1 {
		t.Fatalf("exit code = %d, want 1", exitCode)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Errorf("stderr = %q, want unknown command message", stderr.String())
	}
}

func Test_Run_CreatePutStatsVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	var out, errOut bytes.Buffer
	exitCode := Run(nil, &out, &errOut, []string{"mv2tool", "create", path, "--lex"}, nil)
	if exitCode != 0 {
		t.Fatalf("create: exit=%d stderr=%q", exitCode, errOut.String())
	}

	out.Reset()
	errOut.Reset()
	stdin := strings.NewReader("hello vault")
	exitCode = Run(stdin, &out, &errOut, []string{"mv2tool", "put", path, "--title", "greeting"}, nil)
	if exitCode != 0 {
		t.Fatalf("put: exit=%d stderr=%q", exitCode, errOut.String())
	}

	out.Reset()
	errOut.Reset()
	exitCode = Run(nil, &out, &errOut, []string{"mv2tool", "stats", path}, nil)
	if exitCode != 0 {
		t.Fatalf("stats: exit=%d stderr=%q", exitCode, errOut.String())
	}
	if !strings.Contains(out.String(), "frames:           1") {
		t.Errorf("stats output = %q, want frame count of 1", out.String())
	}

	out.Reset()
	errOut.Reset()
	exitCode = Run(nil, &out, &errOut, []string{"mv2tool", "verify", path}, nil)
	if exitCode != 0 {
		t.Fatalf("verify: exit=%d stderr=%q out=%q", exitCode, errOut.String(), out.String())
	}
	if !strings.Contains(out.String(), "overall:") {
		t.Errorf("verify output = %q, want overall summary line", out.String())
	}
}

func Test_Run_SeedThenDoctor(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	var out, errOut bytes.Buffer
	if exitCode := Run(nil, &out, &errOut, []string{"mv2tool", "create", path}, nil); exitCode != 0 {
		t.Fatalf("create: exit=%d stderr=%q", exitCode, errOut.String())
	}

	out.Reset()
	errOut.Reset()
	if exitCode := Run(nil, &out, &errOut, []string{"mv2tool", "seed", path, "5"}, nil); exitCode != 0 {
		t.Fatalf("seed: exit=%d stderr=%q", exitCode, errOut.String())
	}
	if !strings.Contains(out.String(), "seeded 5 frames") {
		t.Errorf("seed output = %q, want seeded count", out.String())
	}

	out.Reset()
	errOut.Reset()
	if exitCode := Run(nil, &out, &errOut, []string{"mv2tool", "doctor", path, "--plan-only"}, nil); exitCode != 0 {
		t.Fatalf("doctor: exit=%d stderr=%q", exitCode, errOut.String())
	}
	if !strings.Contains(out.String(), "[Probe]") {
		t.Errorf("doctor output = %q, want Probe phase header", out.String())
	}
}
