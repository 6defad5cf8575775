// Package main boots tinyos with the built-in applications and exits with
// initproc's exit code.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tinyos/pkg/apps"
	"tinyos/pkg/config"
	"tinyos/pkg/kernel"
)

var (
	configPath = flag.String("config", "", "TOML configuration file")
	logLevel   = flag.String("log-level", "", "Log level override (trace, debug, info, warn, error)")
	initProc   = flag.String("init", "", "Application to run as initproc")
	list       = flag.Bool("list", false, "List the built-in applications and exit")
)

func main() {
	flag.Parse()

	reg, err := apps.Registry()
	if err != nil {
		log.Fatalf("Failed to load applications: %v", err)
	}
	if *list {
		for _, name := range reg.Names() {
			fmt.Println(name)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *initProc != "" {
		cfg.InitProc = *initProc
	}

	k, err := kernel.New(kernel.Options{Config: cfg, Loader: reg})
	if err != nil {
		log.Fatalf("Failed to boot: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := k.Run(ctx)
	if err != nil {
		log.Fatalf("Kernel stopped: %v", err)
	}
	stop()
	os.Exit(int(code))
}
