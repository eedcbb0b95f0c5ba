// Package main runs the roundctl operator CLI.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/partyround/internal/tools/roundctl"
)

func main() {
	log.SetPrefix("[ROUNDCTL] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := roundctl.Run(ctx, os.Args, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("roundctl: %v", err)
	}
}
