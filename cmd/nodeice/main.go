// Command nodeice runs the Nodeice Board: a notice board served over a
// mesh radio text channel.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/AndreasThinks/nodeice-board/internal/bootstrap"
	"github.com/AndreasThinks/nodeice-board/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize board: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := rt.Run(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if runErr != nil {
		log.Fatalf("Board stopped: %v", runErr)
	}
}
