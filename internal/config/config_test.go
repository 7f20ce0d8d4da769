package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wsharness/internal/session"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplatesLoadAndConvert(t *testing.T) {
	for _, kind := range []string{"receiver", "handshake"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		cfg, err := LoadHarnessConfig(path)
		if err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		if cfg.Role != kind {
			t.Fatalf("template role=%q want %q", cfg.Role, kind)
		}
		srv, err := ServerConfig(cfg)
		if err != nil {
			t.Fatalf("convert %s: %v", kind, err)
		}
		addr, _ := srv.ListenAddr()
		want := "0.0.0.0:8080"
		if kind == "handshake" {
			want = "0.0.0.0:5678"
		}
		if addr != want {
			t.Fatalf("%s listen addr=%q want %q", kind, addr, want)
		}
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := writeConfig(t, "role = \"receiver\"\n")
	if err := WriteTemplate(path, "receiver", false); err == nil {
		t.Fatalf("expected existing config error")
	}
	if err := WriteTemplate(path, "receiver", true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	if _, err := Template("echo"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadHarnessConfigDefaults(t *testing.T) {
	cfg, err := LoadHarnessConfig(writeConfig(t, "port = 9001\nread_timeout = \"2s\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Role != "receiver" || cfg.StoreRoot == nil || *cfg.StoreRoot != "." {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	srv, err := ServerConfig(cfg)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if srv.Role != session.RoleReceiver || srv.ReadTimeout != 2*time.Second || srv.MaxPayloadBytes != 1<<30 {
		t.Fatalf("unexpected server config: %+v", srv)
	}
	if addr, _ := srv.ListenAddr(); addr != ":9001" {
		t.Fatalf("listen addr=%q", addr)
	}
}

func TestLoadHarnessConfigNormalizesRole(t *testing.T) {
	cfg, err := LoadHarnessConfig(writeConfig(t, "role = \" Receiver \"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Role != "receiver" || cfg.StoreRoot == nil || *cfg.StoreRoot != "." {
		t.Fatalf("mixed-case role not normalized: role=%q root=%v", cfg.Role, cfg.StoreRoot)
	}
	if _, err := ServerConfig(cfg); err != nil {
		t.Fatalf("convert: %v", err)
	}
}

func TestValidateHarnessConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "role", body: `role = "echo"`, want: "unknown role"},
		{name: "port", body: `port = 70000`, want: "port out of range"},
		{name: "duration", body: `write_timeout = "soon"`, want: "write_timeout"},
		{name: "negative", body: `store_write_timeout = "-1s"`, want: "store_write_timeout"},
		{name: "payload", body: `max_payload_bytes = -1`, want: "max_payload_bytes"},
		{name: "syntax", body: `role = `, want: "config parse failed"},
		{name: "unknown key", body: `listen_backlog = 5`, want: "config parse failed"},
		{name: "empty store", body: `store_root = ""`, want: "store_root"},
	}
	for _, tc := range cases {
		_, err := LoadHarnessConfig(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v want %q", tc.name, err, tc.want)
		}
	}
	if _, err := LoadHarnessConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
