package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/camhal/cmd"
	"github.com/tphakala/camhal/internal/buildinfo"
	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/logging"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	logging.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := &conf.Settings{}
	rootCmd := cmd.RootCommand(buildinfo.New(version, buildDate), settings)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.HumanReadable().Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
