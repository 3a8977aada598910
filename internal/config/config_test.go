package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultProfile: "work"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadProfileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	body := `
[identity]
token = "abc"

[transport]
url = "wss://chat.example.com/socket.io/"
retry_delay = "250ms"

[remote]
base_url = "https://chat.example.com/api"

[call]
ice_servers = ["stun:stun.example.com:3478"]
disconnect_grace = "5s"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if p.Transport.RetryDelay.Duration != 250*time.Millisecond {
		t.Errorf("retry_delay = %v", p.Transport.RetryDelay)
	}
	if p.Transport.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want default 5", p.Transport.MaxRetries)
	}
	if p.Call.DisconnectGrace.Duration != 5*time.Second || p.Call.AcceptDelay.Duration != 500*time.Millisecond {
		t.Errorf("call = %+v", p.Call)
	}
	if len(p.Call.ICEServers) != 1 {
		t.Errorf("ice_servers = %v", p.Call.ICEServers)
	}
}

func TestProfileRoundTripsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.toml")
	p := Defaults()
	p.Call.EndGrace = Duration{3 * time.Second}
	if err := SaveProfile(path, &p); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() = %v\n%s", err, raw)
	}
	if loaded.Call.EndGrace.Duration != 3*time.Second {
		t.Errorf("end_grace = %v\n%s", loaded.Call.EndGrace, raw)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr bool
	}{
		{"complete", func(p *Profile) {}, false},
		{"no transport url", func(p *Profile) { p.Transport.URL = "" }, true},
		{"no base url", func(p *Profile) { p.Remote.BaseURL = "" }, true},
		{"user id without token", func(p *Profile) { p.Identity.Token = ""; p.Identity.UserID = "u1" }, false},
		{"no identity", func(p *Profile) { p.Identity = Identity{} }, true},
		{"bad level", func(p *Profile) { p.Log.Level = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Defaults()
			p.Transport.URL = "ws://localhost:3000/socket.io/"
			p.Remote.BaseURL = "http://localhost:3000/api"
			p.Identity.Token = "tok"
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
