package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"sentryfleet/internal/alertsink"
	"sentryfleet/internal/dispatcher"
	"sentryfleet/internal/logger"
	"sentryfleet/internal/regcache"
	"sentryfleet/internal/registryapi"
	"sentryfleet/internal/registrystore"
	"sentryfleet/internal/registryui"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "sentryfleet-registry",
		Usage:   "Registry API + storage: tenants, tests, runs, and the runner claim/complete protocol.",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "0.0.0.0", EnvVars: []string{"SENTRYFLEET_HOST"}},
			&cli.IntFlag{Name: "port", Value: 8090, EnvVars: []string{"SENTRYFLEET_PORT"}},
			&cli.StringFlag{Name: "database", Value: "sqlite://./data/registry.db", EnvVars: []string{"SENTRYFLEET_DATABASE"}},
			&cli.StringFlag{Name: "artifacts-dir", Value: "./data/artifacts", EnvVars: []string{"SENTRYFLEET_ARTIFACTS_DIR"}},
			&cli.StringFlag{Name: "public-base-url", EnvVars: []string{"SENTRYFLEET_PUBLIC_BASE_URL"}},
			&cli.StringSliceFlag{Name: "allowed-hosts", EnvVars: []string{"SENTRYFLEET_ALLOWED_HOSTS"}},
			&cli.StringFlag{Name: "admin-token", EnvVars: []string{"SENTRYFLEET_ADMIN_TOKEN"}, Required: true},
			&cli.StringFlag{Name: "monitor-token", EnvVars: []string{"SENTRYFLEET_MONITOR_TOKEN"}, Required: true},
			&cli.StringFlag{Name: "runner-token", EnvVars: []string{"SENTRYFLEET_RUNNER_TOKEN"}, Required: true},
			&cli.StringFlag{Name: "telegram-bot-token", EnvVars: []string{"SENTRYFLEET_TELEGRAM_BOT_TOKEN"}},
			&cli.StringFlag{Name: "telegram-chat-id", EnvVars: []string{"SENTRYFLEET_TELEGRAM_CHAT_ID"}},
			&cli.StringFlag{Name: "dispatcher-url", EnvVars: []string{"SENTRYFLEET_DISPATCHER_URL"}},
			&cli.StringFlag{Name: "dispatcher-token", EnvVars: []string{"SENTRYFLEET_DISPATCHER_TOKEN"}},
			&cli.StringFlag{Name: "redis-addr", EnvVars: []string{"SENTRYFLEET_REDIS_ADDR"}},
			&cli.StringFlag{Name: "redis-password", EnvVars: []string{"SENTRYFLEET_REDIS_PASSWORD"}},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Apply pending database migrations and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "database", Value: "sqlite://./data/registry.db", EnvVars: []string{"SENTRYFLEET_DATABASE"}},
				},
				Action: runMigrate,
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(c *cli.Context) error {
	ctx := context.Background()
	store, err := registrystore.Open(ctx, c.String("database"))
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Println("migrations applied")
	return nil
}

func runServe(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, log := logger.PrepareLogger(ctx)
	defer func() { _ = log.Sync() }()
	ctx = logger.WithComponent(ctx, "registry")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	store, err := registrystore.Open(ctx, c.String("database"))
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	defer store.Close()

	srv := &registryapi.Server{
		Store:         store,
		ArtifactsDir:  c.String("artifacts-dir"),
		PublicBaseURL: c.String("public-base-url"),
		AllowedHosts:  c.StringSlice("allowed-hosts"),
		Tokens: registryapi.Tokens{
			AdminToken:   c.String("admin-token"),
			MonitorToken: c.String("monitor-token"),
			RunnerToken:  c.String("runner-token"),
		},
		NewID: func() string { return uuid.New().String() },
	}

	if token := c.String("telegram-bot-token"); token != "" {
		srv.Telegram = alertsink.NewTelegramSender(token, c.String("telegram-chat-id"))
	}
	if url := c.String("dispatcher-url"); url != "" {
		srv.Dispatcher = dispatcher.NewClient(dispatcher.Config{BaseURL: url, Token: c.String("dispatcher-token")})
	}
	if addr := c.String("redis-addr"); addr != "" {
		cache, _ := regcache.New(addr, c.String("redis-password"), 0)
		srv.Cache = cache
		defer cache.Close()
	}

	ui := &registryui.Server{
		Store:        store,
		MonitorToken: c.String("monitor-token"),
		ArtifactsDir: c.String("artifacts-dir"),
		NewID:        func() string { return uuid.New().String() },
	}

	// registryapi owns /api/v1, /health, and /metrics; registryui owns /ui.
	// A plain ServeMux dispatches by longest prefix match, so the two chi
	// routers can each own their own namespace without fighting over "/".
	root := http.NewServeMux()
	root.Handle("/ui/", registryui.NewRouter(ui))
	root.Handle("/", registryapi.NewRouter(srv))

	addr := fmt.Sprintf("%s:%d", c.String("host"), c.Int("port"))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("registry listening", zap.String("addr", addr))

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("registry http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
