package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"sentryfleet/internal/alertsink"
	"sentryfleet/internal/dashboard"
	"sentryfleet/internal/dispatcher"
	"sentryfleet/internal/dockerhealth"
	"sentryfleet/internal/logger"
	"sentryfleet/internal/monitorcfg"
	"sentryfleet/internal/monitord"
	"sentryfleet/internal/probe"
	"sentryfleet/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "sentryfleet-monitor",
		Usage:   "Synthetic monitoring control loop: probes domains, folds signals, alerts on transitions.",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./config/monitor.yaml", EnvVars: []string{"SENTRYFLEET_MONITOR_CONFIG"}},
			&cli.StringFlag{Name: "state", Value: "./data/monitor-state.json", EnvVars: []string{"SENTRYFLEET_MONITOR_STATE"}},
			&cli.StringSliceFlag{Name: "etcd-endpoints", EnvVars: []string{"SENTRYFLEET_ETCD_ENDPOINTS"}},
			&cli.StringFlag{Name: "telegram-bot-token", EnvVars: []string{"SENTRYFLEET_TELEGRAM_BOT_TOKEN"}},
			&cli.StringFlag{Name: "telegram-chat-id", EnvVars: []string{"SENTRYFLEET_TELEGRAM_CHAT_ID"}},
			&cli.StringFlag{Name: "dispatcher-url", EnvVars: []string{"SENTRYFLEET_DISPATCHER_URL"}},
			&cli.StringFlag{Name: "dispatcher-token", EnvVars: []string{"SENTRYFLEET_DISPATCHER_TOKEN"}},
			&cli.BoolFlag{Name: "dispatch-escalation", EnvVars: []string{"SENTRYFLEET_DISPATCH_ESCALATION"}},
			&cli.StringFlag{Name: "docker-socket", EnvVars: []string{"SENTRYFLEET_DOCKER_SOCKET"}},
			&cli.BoolFlag{Name: "docker-monitor-all", EnvVars: []string{"SENTRYFLEET_DOCKER_MONITOR_ALL"}},
			&cli.IntFlag{Name: "browser-concurrency", Value: 4, EnvVars: []string{"SENTRYFLEET_BROWSER_CONCURRENCY"}},
			&cli.IntFlag{Name: "down-after-failures", Value: 3, EnvVars: []string{"SENTRYFLEET_DOWN_AFTER_FAILURES"}},
			&cli.IntFlag{Name: "up-after-successes", Value: 2, EnvVars: []string{"SENTRYFLEET_UP_AFTER_SUCCESSES"}},
			&cli.StringFlag{Name: "metrics-addr", Value: ":9091", EnvVars: []string{"SENTRYFLEET_METRICS_ADDR"}},
			&cli.StringFlag{Name: "registry-url", EnvVars: []string{"SENTRYFLEET_REGISTRY_URL"}},
			&cli.StringFlag{Name: "registry-monitor-token", EnvVars: []string{"SENTRYFLEET_REGISTRY_MONITOR_TOKEN"}},
		},
		Action: runMonitor,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMonitor(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, log := logger.PrepareLogger(ctx)
	defer func() { _ = log.Sync() }()
	ctx = logger.WithComponent(ctx, "monitord")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	cfg, err := monitorcfg.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load monitor config: %w", err)
	}

	browser, err := probe.NewBrowser(c.Int("browser-concurrency"))
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	sched := &monitord.Scheduler{
		ConfigPath: c.String("config"),
		StatePath:  c.String("state"),
		Browser:    browser,
		Thresholds: monitord.Thresholds{
			DownAfterFailures: c.Int("down-after-failures"),
			UpAfterSuccesses:  c.Int("up-after-successes"),
		},
		DispatchEscalationEnabled: c.Bool("dispatch-escalation"),
	}

	if token := c.String("telegram-bot-token"); token != "" {
		sched.Telegram = alertsink.NewTelegramSender(token, c.String("telegram-chat-id"))
	}

	if url := c.String("dispatcher-url"); url != "" {
		sched.Dispatcher = dispatcher.NewClient(dispatcher.Config{
			BaseURL: url,
			Token:   c.String("dispatcher-token"),
		})
	}

	if sock := c.String("docker-socket"); sock != "" || c.Bool("docker-monitor-all") {
		dc, err := dockerhealth.NewClient(dockerhealth.Config{
			SocketPath: sock,
			MonitorAll: c.Bool("docker-monitor-all"),
		})
		if err != nil {
			log.Warn("docker client unavailable, container_health signal disabled", zap.Error(err))
		} else {
			sched.DockerClient = dc
		}
	}

	if endpoints := c.StringSlice("etcd-endpoints"); len(endpoints) > 0 {
		registry, err := monitord.NewRegistry(monitord.RegistryConfig{Endpoints: endpoints})
		if err != nil {
			return fmt.Errorf("create monitor registry: %w", err)
		}
		if err := registry.Register(ctx); err != nil {
			return fmt.Errorf("register monitor instance: %w", err)
		}
		coord := monitord.NewCoordinator(registry)
		if err := coord.Start(ctx); err != nil {
			return fmt.Errorf("start coordinator: %w", err)
		}
		sched.Coordinator = coord
		log.Info("running in distributed mode", zap.Strings("etcd_endpoints", endpoints))
	} else {
		log.Info("running in single-instance mode")
	}

	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if addr := c.String("metrics-addr"); addr != "" {
		registryClient := dashboard.NewRegistryStatusClient(c.String("registry-url"), c.String("registry-monitor-token"))

		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		mux.Handle("/dashboard", dashboard.Handler(sched.Snapshot, registryClient))
		metricsSrv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
	}

	log.Info("monitor starting", zap.Duration("interval", interval), zap.Int("domains", len(cfg.Domains)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := sched.RunCycle(ctx); err != nil {
		log.Error("initial cycle failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("monitor stopped")
			return nil
		case <-ticker.C:
			if err := sched.RunCycle(ctx); err != nil {
				log.Error("cycle failed", zap.Error(err))
			}
		}
	}
}
