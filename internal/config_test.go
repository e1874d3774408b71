package internal

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Cascade.DefaultActor != "agent.cascade" {
		t.Errorf("default actor = %q", cfg.Cascade.DefaultActor)
	}
}

func TestLogFileConfig_RequiresSizeWithPath(t *testing.T) {
	cfg := LogFileConfig{Path: "kodebase.log"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("log file without max size should fail")
	}
	cfg.MaxSizeMB = 10
	if err := cfg.Validate(); err != nil {
		t.Fatalf("log file with size should pass: %v", err)
	}
	if (&LogFileConfig{}).Validate() != nil {
		t.Error("no log file needs no size")
	}
}

func TestCascadeConfig_Validate(t *testing.T) {
	cfg := CascadeConfig{LockFile: ".cascade.lock"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing default actor should fail")
	}
	cfg = CascadeConfig{DefaultActor: "agent.cascade", LockFile: ".cascade.lock", LockWait: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative lock wait should fail")
	}
}

func TestCascadeConfig_LockPath(t *testing.T) {
	cfg := CascadeConfig{LockFile: ".cascade.lock"}
	if got := cfg.LockPath("/srv/artifacts"); got != filepath.Join("/srv/artifacts", ".cascade.lock") {
		t.Errorf("relative lock path = %q", got)
	}
	cfg.LockFile = "/tmp/kodebase.lock"
	if got := cfg.LockPath("/srv/artifacts"); got != "/tmp/kodebase.lock" {
		t.Errorf("absolute lock path = %q", got)
	}
}

func TestFullConfig_ArtifactsRootRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Artifacts.Root = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty artifacts root should fail")
	}
}

func TestNewLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.App.NewLogger(&buf).Info("hello", slog.String("artifact_id", "A.1"))
	if !strings.Contains(buf.String(), `"artifact_id":"A.1"`) {
		t.Errorf("log line = %s", buf.String())
	}
}

func TestNewLogger_RotatingFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "kodebase.log")
	cfg := NewDefaultConfig()
	cfg.App.LogFile.Path = p
	cfg.App.NewLogger(io.Discard).Info("to file")
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %s", data)
	}
}
