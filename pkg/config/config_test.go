package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Cycle.Interval != 300*time.Second {
		t.Errorf("Cycle.Interval = %v, want 5m", cfg.Cycle.Interval)
	}
	if cfg.Cycle.FetchTimeout != 30*time.Second {
		t.Errorf("Cycle.FetchTimeout = %v, want 30s", cfg.Cycle.FetchTimeout)
	}
	if cfg.Cycle.TransferTimeout != time.Minute {
		t.Errorf("Cycle.TransferTimeout = %v, want 1m", cfg.Cycle.TransferTimeout)
	}
	if cfg.Cycle.MaxParallelFetches != 4 {
		t.Errorf("Cycle.MaxParallelFetches = %d, want 4", cfg.Cycle.MaxParallelFetches)
	}
	if cfg.Remote.Port != 22 {
		t.Errorf("Remote.Port = %d, want 22", cfg.Remote.Port)
	}
	if cfg.Remote.Directory != "public_html/webcams" {
		t.Errorf("Remote.Directory = %q", cfg.Remote.Directory)
	}
	if cfg.Events.Enabled {
		t.Error("Events.Enabled should be false by default")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"RELAY_REMOTE_HOST":  "remote.host",
		"relay_archive_path": "archive.base_path",
		"RELAY_INTERVAL":     "cycle.interval",
		"LOG_LEVEL":          "logging.level",
		"HOME":               "",
		"PATH":               "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive")
	if err := os.Mkdir(archive, 0o755); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, dir, `
archive:
  base_path: `+archive+`
roster:
  path: cameras.txt
remote:
  host: ovid.example.edu
  user: mrouser
  directory: public_html/webcams
cycle:
  interval: 2m
  max_parallel_fetches: 8
logging:
  format: console
`)

	cfg, err := Load(Options{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Archive.BasePath != archive {
		t.Errorf("Archive.BasePath = %q, want %q", cfg.Archive.BasePath, archive)
	}
	if cfg.Remote.Host != "ovid.example.edu" || cfg.Remote.User != "mrouser" {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Cycle.Interval != 2*time.Minute {
		t.Errorf("Cycle.Interval = %v, want 2m", cfg.Cycle.Interval)
	}
	if cfg.Cycle.MaxParallelFetches != 8 {
		t.Errorf("Cycle.MaxParallelFetches = %d, want 8", cfg.Cycle.MaxParallelFetches)
	}
	// Untouched keys keep their defaults.
	if cfg.Cycle.FetchTimeout != 30*time.Second {
		t.Errorf("Cycle.FetchTimeout = %v, want 30s", cfg.Cycle.FetchTimeout)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %q, want console", cfg.Logging.Format)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
archive:
  base_path: `+dir+`
roster:
  path: cameras.txt
remote:
  host: file.example.edu
  user: mrouser
`)
	t.Setenv("RELAY_REMOTE_HOST", "env.example.edu")
	t.Setenv("RELAY_INTERVAL", "45s")
	t.Setenv("RELAY_REMOTE_PORT", "2222")

	cfg, err := Load(Options{ConfigPath: path, RosterPath: "override.txt"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.Host != "env.example.edu" {
		t.Errorf("Remote.Host = %q, want env override", cfg.Remote.Host)
	}
	if cfg.Remote.Port != 2222 {
		t.Errorf("Remote.Port = %d, want 2222", cfg.Remote.Port)
	}
	if cfg.Cycle.Interval != 45*time.Second {
		t.Errorf("Cycle.Interval = %v, want 45s", cfg.Cycle.Interval)
	}
	if cfg.Roster.Path != "override.txt" {
		t.Errorf("Roster.Path = %q, want override.txt", cfg.Roster.Path)
	}
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "missing archive base path",
			body: `
archive:
  base_path: ` + filepath.Join(dir, "missing") + `
roster: {path: cameras.txt}
remote: {host: h, user: u}
`,
			wantErr: "archive.base_path must be an existing directory",
		},
		{
			name: "missing remote host",
			body: `
archive: {base_path: ` + dir + `}
roster: {path: cameras.txt}
remote: {user: u}
`,
			wantErr: "remote.host is required",
		},
		{
			name: "bad log format",
			body: `
archive: {base_path: ` + dir + `}
roster: {path: cameras.txt}
remote: {host: h, user: u}
logging: {format: xml}
`,
			wantErr: "logging.format must be one of",
		},
		{
			name: "events enabled without url",
			body: `
archive: {base_path: ` + dir + `}
roster: {path: cameras.txt}
remote: {host: h, user: u}
events: {enabled: true}
`,
			wantErr: "events.url is required",
		},
		{
			name: "no auth method",
			body: `
archive: {base_path: ` + dir + `}
roster: {path: cameras.txt}
remote: {host: h, user: u, use_agent: false}
`,
			wantErr: "no authentication method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(Options{ConfigPath: path})
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(Options{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("error = %v, want config file not found", err)
	}
}

func TestConversions(t *testing.T) {
	cfg := defaultConfig()
	cfg.Remote.Host = "h"
	cfg.Remote.User = "u"
	cfg.Events.URL = "amqp://localhost/"

	ssh := cfg.SSHConfig()
	if ssh.Address() != "h:22" {
		t.Errorf("Address() = %q, want h:22", ssh.Address())
	}
	if ssh.TransferTimeout != time.Minute {
		t.Errorf("TransferTimeout = %v, want 1m", ssh.TransferTimeout)
	}

	rc := cfg.RabbitMQConfig()
	if rc.URL != "amqp://localhost/" || rc.Exchange != "webcam-events" || !rc.Durable {
		t.Errorf("RabbitMQConfig = %+v", rc)
	}
	if lc := cfg.LogConfig(); lc.Level != "info" || lc.Format != "json" {
		t.Errorf("LogConfig = %+v", lc)
	}
}
