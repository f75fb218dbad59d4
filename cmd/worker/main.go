package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"faceattend/internal/app"
	"faceattend/internal/config"
	"faceattend/internal/logging"
)

// Worker consumes queued attempts, identifies the capture and records attendance.
// It needs QUEUE_BACKEND=redis and the api's MEDIA_DIR on a shared filesystem.
func main() {
	cfg := config.Load()

	logs, err := logging.Setup(cfg.LogDir, "worker", cfg.LogMaxAge)
	if err != nil {
		log.Fatalf("logging setup failed: %v", err)
	}
	defer logs.Close()

	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	if err := a.Face.Health(ctx); err != nil {
		log.Printf("WARNING: Face service not available: %v", err)
		log.Println("Worker will keep consuming; attempts fail until it is back")
	} else {
		log.Println("Face service connected")
	}

	if err := a.Worker().Run(ctx); err != nil {
		log.Printf("worker failed: %v", err)
	}
}
