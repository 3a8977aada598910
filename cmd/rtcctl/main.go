package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/matheus3301/wpprtc/internal/api"
	"github.com/matheus3301/wpprtc/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Commands that work without a running daemon.
	switch args[0] {
	case "init":
		cmdInit(name, args[1:])
		return
	case "profiles":
		cmdProfiles(*jsonFlag)
		return
	}

	cmd, known := commands[args[0]]
	if !known {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		fail(fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err))
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if !cmd.stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	if err := cmd.run(ctx, &env{client: c, json: *jsonFlag}, args[1:]); err != nil {
		fail(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: rtcctl [-profile <name>] [-json] [-timeout <d>] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init [flags]                      Write profile.toml for the profile")
	fmt.Fprintln(os.Stderr, "  profiles                          List profiles and whether rtcd runs")
	for _, name := range order {
		fmt.Fprintf(os.Stderr, "  %-33s %s\n", commands[name].usage, commands[name].help)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
