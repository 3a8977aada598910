package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/matheus3301/wpprtc/internal/config"
	"github.com/matheus3301/wpprtc/internal/identity"
	"github.com/matheus3301/wpprtc/internal/lock"
	"github.com/matheus3301/wpprtc/internal/profile"
)

func cmdInit(name string, args []string) {
	flags := flag.NewFlagSet("init", flag.ExitOnError)
	url := flags.String("url", "", "websocket URL of the real-time service")
	base := flags.String("api", "", "base URL of the REST API")
	token := flags.String("token", "", "bearer token")
	user := flags.String("user", "", "user id (default: read from the token)")
	username := flags.String("name", "", "display name")
	makeDefault := flags.Bool("default", false, "make this the default profile")
	force := flags.Bool("force", false, "overwrite an existing profile.toml")
	_ = flags.Parse(args)

	path := profile.ConfigPath(name)
	if _, err := os.Stat(path); err == nil && !*force {
		fail(fmt.Errorf("%s already exists (use -force to overwrite)", path))
	}

	cfg := config.Defaults()
	cfg.Transport.URL = *url
	cfg.Remote.BaseURL = *base
	cfg.Identity = config.Identity{UserID: *user, Username: *username, Token: *token}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}
	if _, err := identity.Resolve(identity.Config{UserID: *user, Username: *username, Token: *token}); err != nil {
		fail(err)
	}

	if err := profile.EnsureDir(name); err != nil {
		fail(err)
	}
	if err := config.SaveProfile(path, &cfg); err != nil {
		fail(err)
	}
	if *makeDefault {
		global, err := config.Load(profile.GlobalConfigPath())
		if errors.Is(err, fs.ErrNotExist) {
			global, err = &config.Config{}, nil
		}
		if err != nil {
			fail(err)
		}
		global.DefaultProfile = name
		if err := config.Save(profile.GlobalConfigPath(), global); err != nil {
			fail(err)
		}
	}
	fmt.Printf("Wrote %s\n", path)
}

func cmdProfiles(jsonOut bool) {
	names, err := profile.List()
	if err != nil {
		fail(err)
	}
	type entry struct {
		Name    string `json:"name"`
		Path    string `json:"path"`
		Running bool   `json:"running"`
		PID     int    `json:"pid,omitempty"`
	}
	var out []entry
	for _, n := range names {
		pid, held := lock.Holder(profile.LockPath(n))
		out = append(out, entry{Name: n, Path: profile.Dir(n), Running: held, PID: pid})
	}
	if jsonOut {
		outputJSON(out)
		return
	}
	if len(out) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, e := range out {
		running := "stopped"
		if e.Running {
			running = fmt.Sprintf("running, pid %d", e.PID)
		}
		fmt.Printf("%-20s %s (%s)\n", e.Name, e.Path, running)
	}
}
