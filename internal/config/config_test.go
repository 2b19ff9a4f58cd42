package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bridge:\n  working_dir: /srv/game\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.Type != StorageFile || cfg.Storage.Path != "/srv/game" {
		t.Fatalf("expected file storage in the working dir, got %+v", cfg.Storage)
	}
	if cfg.Replenish.DailyTime != "00:00" {
		t.Fatalf("unexpected daily time %q", cfg.Replenish.DailyTime)
	}
	if cfg.Permissions.Engine != PermissionsOPA || cfg.Permissions.CacheSize != 256 {
		t.Fatalf("unexpected permissions %+v", cfg.Permissions)
	}
	if got := cfg.Server.AdminAddr(); got != "127.0.0.1:8470" {
		t.Fatalf("unexpected admin addr %q", got)
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	t.Setenv("CHRONOS_REPLENISH_DAILY_TIME", "06:30")

	path := writeConfig(t, `
bridge:
  working_dir: /srv/game
  active_users: [alice, bob]
storage:
  type: bolt
permissions:
  engine: static
  grants:
    parent: ["*"]
    sitter: [pause_timer, resume_timer]
admin:
  console_token: s3cret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Replenish.DailyTime != "06:30" {
		t.Fatalf("expected environment override, got %q", cfg.Replenish.DailyTime)
	}
	if cfg.Storage.Path != filepath.Join("/srv/game", "chronos.bolt") {
		t.Fatalf("unexpected bolt path %q", cfg.Storage.Path)
	}
	if len(cfg.Bridge.ActiveUsers) != 2 {
		t.Fatalf("expected two initial users, got %v", cfg.Bridge.ActiveUsers)
	}
	if got := cfg.Permissions.Grants["sitter"]; len(got) != 2 || got[0] != "pause_timer" {
		t.Fatalf("unexpected sitter grants %v", got)
	}
	if cfg.Admin.ConsoleToken != "s3cret" {
		t.Fatalf("unexpected console token %q", cfg.Admin.ConsoleToken)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "storage type", body: "storage:\n  type: etcd\n", want: "unknown storage type"},
		{name: "daily time", body: "replenish:\n  daily_time: noon\n", want: "daily_time"},
		{name: "timezone", body: "replenish:\n  timezone: Mars/Olympus\n", want: "timezone"},
		{name: "permissions engine", body: "permissions:\n  engine: ldap\n", want: "permissions engine"},
		{name: "logging format", body: "logging:\n  format: xml\n", want: "logging format"},
		{name: "admin port", body: "server:\n  admin_port: 70000\n", want: "admin port"},
		{name: "redis timeout", body: "storage:\n  type: redis\n  redis:\n    dial_timeout: soon\n", want: "dial_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
bridge:
  working_dir: /srv/game
  workdir: /typo
permissions:
  grants:
    parent: ["*"]
metrics:
  port: 1
`)

	unknown, err := UnknownKeys(path)
	if err != nil {
		t.Fatalf("unknown keys: %v", err)
	}
	want := []string{"bridge.workdir", "metrics.port"}
	if len(unknown) != len(want) || unknown[0] != want[0] || unknown[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, unknown)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Storage.Redis.Port != 6379 || cfg.Admin.RateBurst != 40 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
