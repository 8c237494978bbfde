// Command scheduler runs the broker's periodic maintenance jobs outside
// the request path. Adapted from the teacher's cmd/scheduler/main.go
// ticker-per-job shape, trimmed to what this system's spec actually needs
// maintained: expired attachment/grant GC (call records expire on their
// own via Redis TTL, so there is no separate call sweep).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper2/broker/internal/attachment"
	"github.com/whisper2/broker/internal/config"
	"github.com/whisper2/broker/internal/store"
)

func main() {
	cfg := config.Load()

	st, err := store.New(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("failed to close postgres: %v", err)
		}
	}()

	attachGate, err := attachment.New(cfg.MinioEndpoint, cfg.MinioKey, cfg.MinioSecret, cfg.MinioBucket, cfg.MinioUseSSL, st)
	if err != nil {
		log.Fatalf("failed to initialize attachment gate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("scheduler started")

	go runAttachmentGC(ctx, attachGate)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("scheduler shutting down")
	cancel()
}

// runAttachmentGC sweeps expired attachment records and grants every
// 10 minutes, per spec §4.7's GC requirement.
func runAttachmentGC(ctx context.Context, gate *attachment.Gate) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attachments, grants, err := gate.RunGC(ctx)
			if err != nil {
				log.Printf("attachment gc failed: %v", err)
				continue
			}
			if attachments > 0 || grants > 0 {
				log.Printf("attachment gc: removed %d attachments, %d grants", attachments, grants)
			}
		}
	}
}
