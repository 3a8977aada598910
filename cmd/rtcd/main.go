package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/matheus3301/wpprtc/internal/daemon"
	"github.com/matheus3301/wpprtc/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(profile.ConfigPath(name)); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: profile %q has no %s; create it with: rtcctl -profile %s init\n",
			name, profile.ConfigPath(name), name)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: name}),
	)

	app.Run()
}
