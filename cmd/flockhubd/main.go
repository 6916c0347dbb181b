// Command flockhubd runs the Flockwave Message Hub as a standalone server,
// accepting TCP and WebSocket connections and dispatching envelopes through
// one hub.Hub.
//
// Configuration Loading Strategy:
// 1. Command line argument: uses the specified config file path.
// 2. Default file: attempts to load config/flockhubd.yaml.
// 3. Hardcoded defaults: falls back to built-in configuration.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/v-Sharan/skybrush-server/internal/config"
	"github.com/v-Sharan/skybrush-server/internal/hub"
	"github.com/v-Sharan/skybrush-server/internal/logging"
	"github.com/v-Sharan/skybrush-server/internal/registry"
	"github.com/v-Sharan/skybrush-server/internal/transport"
	"github.com/v-Sharan/skybrush-server/internal/uav"
)

func main() {
	cfg, source := loadConfig()
	log.Printf("Starting %s using %s", cfg.AppName, source)
	if cfg.Debug {
		log.Printf("Debug logging enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients := registry.NewClientRegistry()
	channelTypes := registry.NewChannelTypeRegistry()
	channelTypes.Add(&registry.ChannelType{ID: "tcp"})
	channelTypes.Add(&registry.ChannelType{ID: "websocket"})

	h := hub.New(clients, channelTypes,
		hub.WithDebugLogging(cfg.Debug),
		hub.WithQueueCapacity(cfg.Queue.Capacity),
	)
	defer h.Close()

	batchDelay := time.Duration(cfg.RateLimit.BatchDelayMillis) * time.Millisecond
	settleWindow := time.Duration(cfg.RateLimit.SettleWindowMillis) * time.Millisecond
	if err := uav.Register(h, batchDelay, settleWindow); err != nil {
		log.Fatalf("failed to register demo extension: %v", err)
	}

	hubLog := logging.New(cfg.Debug)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })

	if cfg.TCP.Enabled {
		tcpListener := &transport.TCPListener{Addr: cfg.TCP.Addr, Hub: h, Clients: clients, Log: hubLog}
		g.Go(func() error { return tcpListener.ListenAndServe(gctx) })
		log.Printf("TCP listener on %s", cfg.TCP.Addr)
	}

	if cfg.WebSocket.Enabled {
		wsListener := &transport.WebSocketListener{Addr: cfg.WebSocket.Addr, Path: cfg.WebSocket.Path, Hub: h, Clients: clients, Log: hubLog}
		g.Go(func() error { return wsListener.ListenAndServe(gctx) })
		log.Printf("WebSocket listener on %s%s", cfg.WebSocket.Addr, cfg.WebSocket.Path)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal: %s, shutting down", sig)
	case <-gctx.Done():
		log.Printf("server error, shutting down: %v", gctx.Err())
	}

	h.Shutdown()
	cancel()

	done := make(chan struct{})
	go func() {
		if err := g.Wait(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Println("all services shut down successfully")
	case <-time.After(10 * time.Second):
		log.Println("shutdown timeout exceeded")
	}
}

func loadConfig() (*config.Config, string) {
	if len(os.Args) >= 2 {
		cfg, err := config.Load(os.Args[1])
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", os.Args[1], err)
		}
		return cfg, "config file: " + os.Args[1]
	}

	if _, err := os.Stat("config/flockhubd.yaml"); err == nil {
		cfg, err := config.Load("config/flockhubd.yaml")
		if err != nil {
			log.Printf("warning: config/flockhubd.yaml exists but failed to load: %v", err)
			return defaultConfig(), "hardcoded defaults (config/flockhubd.yaml failed to parse)"
		}
		return cfg, "config/flockhubd.yaml (default)"
	}

	return defaultConfig(), "hardcoded defaults"
}

func defaultConfig() *config.Config {
	return &config.Config{
		AppName: "flockhubd",
		Debug:   true,
		TCP:     config.TCPConfig{Enabled: true, Addr: ":9001"},
		WebSocket: config.WebSocketConfig{
			Enabled: true,
			Addr:    ":9002",
			Path:    "/",
		},
		Queue:     config.QueueConfig{Capacity: 4096},
		RateLimit: config.RateLimitConfig{BatchDelayMillis: 100, SettleWindowMillis: 100},
	}
}
