package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("wavefront %s failed: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestCommandWorkflow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "wavefront.yaml")
	dbPath := filepath.Join(dir, "synthetic.db")
	reportPath := filepath.Join(dir, "report.yaml")

	runCommand(t, "config", "init", cfgPath, "--log-level", "error")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("Config not written: %v", err)
	}

	runCommand(t, "--config", cfgPath, "--log-level", "error",
		"synth", dbPath, "--size", "48", "--shifts", "90,70")

	out := runCommand(t, "--config", cfgPath, "--log-level", "error", "inspect", dbPath)
	if !strings.Contains(out, "10 planes (2 sets)") || !strings.Contains(out, "48x48") {
		t.Errorf("Unexpected inspect output:\n%s", out)
	}

	out = runCommand(t, "--config", cfgPath, "--log-level", "error",
		"process", dbPath, "--cores", "2", "--report", reportPath)
	if !strings.Contains(out, "1 rejected") {
		t.Errorf("Expected one rejected set in the summary:\n%s", out)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("Report not written: %v", err)
	}
	if !strings.Contains(string(data), "sets: 2") {
		t.Errorf("Unexpected report:\n%s", data)
	}
}

func TestProcessRejectsInvalidOverride(t *testing.T) {
	dir := t.TempDir()
	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(dir, "absent.yaml"), "--log-level", "error",
		"process", filepath.Join(dir, "missing.db"), "--projection", "svd"})
	if err := cmd.Execute(); err == nil {
		t.Error("Expected an error for an unknown projection")
	}
}
