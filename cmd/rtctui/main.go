package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/wpprtc/internal/api"
	"github.com/matheus3301/wpprtc/internal/profile"
	"github.com/matheus3301/wpprtc/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	noStart := flag.Bool("no-start", false, "do not start rtcd when it is not running")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := profile.SocketPath(name)
	if !daemonUp(socketPath) {
		if *noStart {
			fmt.Fprintf(os.Stderr, "rtcd is not running for profile %q\n", name)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "rtcd not running for profile %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start rtcd: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "rtcd did not become ready, see %s\n", profile.LogPath(name))
			os.Exit(1)
		}
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if err := tui.NewApp(c, name, *timeout).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// daemonUp reports whether a daemon answers GetStatus on socketPath.
func daemonUp(socketPath string) bool {
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Call(ctx, "GetStatus", nil)
	return err == nil
}

// startDaemon launches rtcd from next to this binary, or from PATH.
func startDaemon(name string) error {
	rtcd := "rtcd"
	if exe, err := os.Executable(); err == nil {
		if p := filepath.Join(filepath.Dir(exe), "rtcd"); fileExists(p) {
			rtcd = p
		}
	}
	cmd := exec.Command(rtcd, "-profile", name)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if daemonUp(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
