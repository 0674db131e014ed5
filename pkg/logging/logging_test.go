package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func resetLogger(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetOutput(os.Stderr)
	})
}

func TestSetupJSON(t *testing.T) {
	resetLogger(t)

	var buf bytes.Buffer
	if err := Setup("debug", "json", &buf); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logrus.WithField("set", 2).Debug("demodulated")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "demodulated" || entry["level"] != "debug" {
		t.Errorf("Unexpected entry: %v", entry)
	}
	if entry["set"] != float64(2) {
		t.Errorf("Expected field set=2, got %v", entry["set"])
	}
}

func TestSetupTextFiltersLevel(t *testing.T) {
	resetLogger(t)

	var buf bytes.Buffer
	if err := Setup("warn", "text", &buf); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logrus.Info("hidden")
	logrus.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info entry logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("Warn entry missing: %q", out)
	}
}

func TestSetupRejectsBadInput(t *testing.T) {
	resetLogger(t)

	if err := Setup("loud", "text", nil); err == nil {
		t.Error("Expected an error for an unknown level")
	}
	if err := Setup("info", "xml", nil); err == nil {
		t.Error("Expected an error for an unknown format")
	}
}
