package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	fleetcmd "github.com/louisbranch/motorpool/internal/cmd/fleet"
)

func main() {
	cfg, err := fleetcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[FLEET] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fleetcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
