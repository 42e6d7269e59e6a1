package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dmitrijs2005/sessionkeeper/internal/cli"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
)

func main() {
	fs := flag.NewFlagSet("authctl", flag.ExitOnError)
	var configPath string
	fs.StringVar(&configPath, "c", "", "config file (.json, .yaml)")
	fs.StringVar(&configPath, "config", "", "config file (.json, .yaml)")
	_ = fs.Parse(os.Args[1:])

	ctx := context.Background()
	cfg := config.LoadFile(configPath)
	logger := logging.New(cfg.LogFormat, "warn", os.Stderr)

	deps, err := server.Build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app := cli.NewApp(deps.Auth, deps.Accounts, os.Stdin, os.Stdout)
	err = app.Run(ctx, fs.Args())
	_ = deps.Close()

	if err != nil {
		if !errors.Is(err, cli.ErrUsage) || len(fs.Args()) > 0 {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
