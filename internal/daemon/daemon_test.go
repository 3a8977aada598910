package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/wpprtc/internal/api"
	"github.com/matheus3301/wpprtc/internal/config"
	"github.com/matheus3301/wpprtc/internal/lock"
	"github.com/matheus3301/wpprtc/internal/profile"
	"go.uber.org/fx"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Use /tmp for short socket paths (macOS 104-char limit).
func shortHome(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "rtc-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(profile.HomeEnv, dir)
}

func testConfig() *config.Profile {
	cfg := config.Defaults()
	cfg.Identity = config.Identity{UserID: "me", Username: "Me"}
	// Nothing listens on port 1, so the link stays down for the whole test.
	cfg.Transport.URL = "ws://127.0.0.1:1/"
	cfg.Remote.BaseURL = "http://127.0.0.1:1/api"
	cfg.Log.Level = "debug"
	return &cfg
}

func TestFxModuleWiring(t *testing.T) {
	if err := fx.ValidateApp(Module(Params{ProfileName: "fxtest", Config: testConfig()})); err != nil {
		t.Fatalf("fx graph does not resolve: %v", err)
	}
}

func TestInvalidConfigFailsStartup(t *testing.T) {
	shortHome(t)
	cfg := testConfig()
	cfg.Remote.BaseURL = ""

	app := fx.New(Module(Params{ProfileName: "bad", Config: cfg}), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("expected startup error for missing remote.base_url")
	}
}

func TestDaemonLifecycle(t *testing.T) {
	shortHome(t)
	name := "test"

	app := fx.New(Module(Params{ProfileName: name, Config: testConfig()}), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if pid, held := lock.Holder(profile.LockPath(name)); !held || pid != os.Getpid() {
		t.Errorf("lock holder = %d, %v", pid, held)
	}
	if info, err := os.Stat(profile.SocketPath(name)); err != nil {
		t.Fatalf("socket missing: %v", err)
	} else if info.Mode().Perm() != 0600 {
		t.Errorf("socket mode = %o, want 600", info.Mode().Perm())
	}

	client, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	resp, err := client.Call(ctx, "GetStatus", nil)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	fields := resp.GetFields()
	if got := fields["profile"].GetStringValue(); got != name {
		t.Errorf("profile = %q, want %q", got, name)
	}
	if got := fields["user_id"].GetStringValue(); got != "me" {
		t.Errorf("user_id = %q, want me", got)
	}
	if got := fields["call_state"].GetStringValue(); got != "idle" {
		t.Errorf("call_state = %q, want idle", got)
	}

	// Sending needs the link; the error must come back as Unavailable, not Internal.
	_, err = client.Call(ctx, "StartCall", map[string]any{"user_id": "bob", "kind": "audio"})
	if grpcstatus.Code(err) != codes.Unavailable {
		t.Errorf("StartCall offline code = %v, want Unavailable", grpcstatus.Code(err))
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(profile.SocketPath(name)); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	if _, held := lock.Holder(profile.LockPath(name)); held {
		t.Error("lock still held after stop")
	}
	if _, err := os.Stat(profile.CachePath(name)); err != nil {
		t.Errorf("cache not created: %v", err)
	}
}

func TestSecondDaemonIsRefused(t *testing.T) {
	shortHome(t)
	name := "busy"
	if err := profile.EnsureDir(name); err != nil {
		t.Fatal(err)
	}
	lk, err := lock.Acquire(profile.LockPath(name))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	app := fx.New(Module(Params{ProfileName: name, Config: testConfig()}), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("second daemon on the same profile started")
	}
}
