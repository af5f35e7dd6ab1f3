package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cricline/cricsync"
)

func main() {
	configPath := flag.String("config", "", "path to config file (built-in defaults when empty)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service, err := cricsync.NewService(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build service: %v\n", err)
		os.Exit(1)
	}

	if err := service.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start service: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	if err := service.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
}
