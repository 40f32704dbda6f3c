package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupCLIEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "campaigns.db"))
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("EVENTS_BROKER", "none")
	t.Setenv("COMPLIANCE_FILE", "")
	t.Setenv("LOG_LEVEL", "error")
}

func TestQueueCommandsRequireBusiness(t *testing.T) {
	_, err := runCLI(t, "queue", "stats", "1")
	if err == nil || !strings.Contains(err.Error(), "--business") {
		t.Fatalf("err = %v, want --business error", err)
	}
}

func TestInvalidID(t *testing.T) {
	_, err := runCLI(t, "--business", "1", "queue", "activate", "abc")
	if err == nil || !strings.Contains(err.Error(), "invalid id") {
		t.Fatalf("err = %v", err)
	}
}

func TestMigrateAndOptOutRoundTrip(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Schema up to date") {
		t.Fatalf("migrate output = %q", out)
	}

	if out, err = runCLI(t, "-b", "1", "optout", "add", "0991234567"); err != nil || !strings.Contains(out, "Opted out") {
		t.Fatalf("add: %q %v", out, err)
	}
	if out, err = runCLI(t, "-b", "1", "optout", "add", "+593991234567"); err != nil || !strings.Contains(out, "Already opted out") {
		t.Fatalf("repeat add: %q %v", out, err)
	}
	if out, err = runCLI(t, "-b", "1", "optout", "remove", "+593991234567"); err != nil || !strings.Contains(out, "Opted back in") {
		t.Fatalf("remove: %q %v", out, err)
	}
	if _, err = runCLI(t, "-b", "1", "optout", "remove", "+593991234567"); err == nil {
		t.Fatal("second remove should fail")
	}
}

func TestQueueListEmpty(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "-b", "1", "queue", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No queues") {
		t.Fatalf("output = %q", out)
	}
}
