package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "peercast.ini")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "[Server]\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != 7144 {
		t.Errorf("ServerPort = %d, want 7144", cfg.ServerPort)
	}
	if cfg.RTMPPort != 1935 {
		t.Errorf("RTMPPort = %d, want 1935", cfg.RTMPPort)
	}
	if cfg.ServerAddress != "0.0.0.0" {
		t.Errorf("ServerAddress = %q, want 0.0.0.0", cfg.ServerAddress)
	}
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeTemp(t, `
[Server]
server_address = 127.0.0.1
server_port = 7145
rtmp_port = 1936

[Privacy]
local_address = 10.0.0.0/8, 192.168.0.0/16
username = admin
password = hunter2

[Root]
root_mode = true
root_session_id = 00000000000000000000000000000001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerAddress != "127.0.0.1" || cfg.ServerPort != 7145 || cfg.RTMPPort != 1936 {
		t.Errorf("unexpected server section: %+v", cfg)
	}
	if len(cfg.LocalAddress) != 2 {
		t.Fatalf("LocalAddress len = %d, want 2", len(cfg.LocalAddress))
	}
	if !cfg.RootMode {
		t.Errorf("RootMode = false, want true")
	}
	if !cfg.HasRootSession {
		t.Errorf("expected HasRootSession")
	}
	if cfg.PasswordHash == "hunter2" {
		t.Errorf("plaintext password was not hashed on load")
	}
	if !VerifyPassword(cfg.PasswordHash, "hunter2") {
		t.Errorf("VerifyPassword failed for the original plaintext password")
	}
	if VerifyPassword(cfg.PasswordHash, "wrong") {
		t.Errorf("VerifyPassword succeeded for a wrong password")
	}
}

func TestLoadPreservesAlreadyHashedPassword(t *testing.T) {
	hashed := HashPassword("hunter2")
	path := writeTemp(t, "[Privacy]\nusername = admin\npassword = "+hashed+"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PasswordHash != hashed {
		t.Errorf("PasswordHash = %q, want unchanged %q", cfg.PasswordHash, hashed)
	}
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeTemp(t, "[Server]\nnot a key value line\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed line")
	}
}

func TestAllowsAdmin(t *testing.T) {
	path := writeTemp(t, "[Privacy]\nlocal_address = 10.0.0.0/8\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AllowsAdmin([]byte{10, 1, 2, 3}) {
		t.Errorf("expected 10.1.2.3 to be allowed")
	}
	if cfg.AllowsAdmin([]byte{8, 8, 8, 8}) {
		t.Errorf("expected 8.8.8.8 to be denied")
	}
}
