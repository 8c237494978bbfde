// Command broker is the whisper broker's main process: it wires every
// long-lived component (store, session manager, connection registry,
// router, group engine, call manager, attachment gate, push coordinator)
// by construction and serves both the /ws frame protocol and the small
// REST surface on one HTTP server. Adapted from the teacher's
// cmd/chatserver/main.go composition-root shape and its graceful-shutdown
// sequence (deregister from Consul, drain the load balancer, stop the
// HTTP server, close sockets).
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper2/broker/internal/attachment"
	"github.com/whisper2/broker/internal/audit"
	"github.com/whisper2/broker/internal/call"
	"github.com/whisper2/broker/internal/codec"
	"github.com/whisper2/broker/internal/config"
	"github.com/whisper2/broker/internal/discovery"
	"github.com/whisper2/broker/internal/eventlog"
	"github.com/whisper2/broker/internal/gateway"
	"github.com/whisper2/broker/internal/group"
	"github.com/whisper2/broker/internal/httpapi"
	"github.com/whisper2/broker/internal/pending"
	"github.com/whisper2/broker/internal/presence"
	"github.com/whisper2/broker/internal/push"
	"github.com/whisper2/broker/internal/ratelimit"
	"github.com/whisper2/broker/internal/router"
	"github.com/whisper2/broker/internal/session"
	"github.com/whisper2/broker/internal/store"
)

func main() {
	cfg := config.Load()
	log.Printf("starting whisper broker: server_id=%s port=%s", cfg.ServerID, cfg.ServerPort)

	st, err := store.New(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("warning: failed to close postgres: %v", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("warning: failed to close redis: %v", err)
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}

	serviceRegistry, err := discovery.New(cfg.ConsulURL, cfg.ServerID, cfg.ServerPort)
	if err != nil {
		log.Fatalf("failed to connect to consul: %v", err)
	}
	if err := serviceRegistry.Register(); err != nil {
		log.Fatalf("failed to register service: %v", err)
	}

	presenceDir := presence.New(redisClient)
	registry := gateway.New(cfg.ServerID, presenceDir)

	// Cross-instance frames published to this server's channel (another
	// broker instance holding the socket's peer) are replayed onto the
	// local socket the same way a direct deliver() call would.
	presenceDir.Subscribe(context.Background(), cfg.ServerID, func(whisperID string, frameType codec.FrameType, payload json.RawMessage) {
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			log.Printf("relayed frame had malformed payload for %s: %v", whisperID, err)
			return
		}
		registry.SendFrame(whisperID, frameType, "", decoded)
	})

	sessions := session.New(st, redisClient, registry, cfg.SessionTTL)
	pendingQueue := pending.New(redisClient)
	limiter := ratelimit.New(redisClient, cfg.RateLimits, cfg.RateLimitBypass)
	callManager := call.New(redisClient, registry)
	events := eventlog.New(redisClient)
	auditLogger := audit.NewLogger(st.DB())

	attachGate, err := attachment.New(cfg.MinioEndpoint, cfg.MinioKey, cfg.MinioSecret, cfg.MinioBucket, cfg.MinioUseSSL, st)
	if err != nil {
		log.Fatalf("failed to initialize attachment gate: %v", err)
	}

	var pushCoord *push.Coordinator
	if cfg.APNsKeyPath != "" {
		pushClient, err := push.NewClient(push.Config{
			KeyPath: cfg.APNsKeyPath,
			KeyID:   cfg.APNsKeyID,
			TeamID:  cfg.APNsTeamID,
			Topic:   cfg.APNsTopic,
			Sandbox: cfg.APNsSandbox,
		})
		if err != nil {
			log.Fatalf("failed to initialize APNs client: %v", err)
		}
		pushCoord = push.NewCoordinator(pushClient, st)
	} else {
		log.Printf("warning: APNS_KEY_PATH not set, push notifications disabled")
	}

	// pushCoord is a *push.Coordinator that may be a nil pointer; only wrap
	// it in the router/group Push interfaces when it's actually usable, so
	// a nil *Coordinator never hides behind a non-nil interface value.
	var routerPush router.Push
	var groupPush group.Push
	if pushCoord != nil {
		routerPush = pushCoord
		groupPush = pushCoord
	}

	groupEngine := group.New(st, pendingQueue, registry, presenceDir, attachGate, groupPush)
	msgRouter := router.New(st, pendingQueue, sessions, registry, presenceDir, attachGate, events, routerPush)

	server := httpapi.New(httpapi.Deps{
		Store:          st,
		Sessions:       sessions,
		Registry:       registry,
		Router:         msgRouter,
		Group:          groupEngine,
		Calls:          callManager,
		Attachments:    attachGate,
		Presence:       presenceDir,
		RateLimiter:    limiter,
		Audit:          auditLogger,
		PushCoord:      pushCoord,
		TurnSecret:     cfg.TurnSharedSecret,
		TurnURLs:       cfg.TurnURLs,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           server.Handler(cfg.AllowedOrigins),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("broker listening on port %s", cfg.ServerPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %v, starting graceful shutdown", sig)

	log.Println("deregistering from service discovery")
	if err := serviceRegistry.Deregister(); err != nil {
		log.Printf("warning: failed to deregister from consul: %v", err)
	}

	log.Println("waiting for load balancer to notice")
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Println("stopping HTTP server")
	shutdownDone := make(chan struct{})
	go func() {
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("warning: HTTP server shutdown error: %v", err)
		}
		close(shutdownDone)
	}()

	log.Println("closing WebSocket connections")
	registry.Shutdown()

	<-shutdownDone
	log.Println("broker stopped gracefully")
}
