package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"warden/internal/domain"
	"warden/internal/infra/config"
	"warden/internal/infra/logger"
	"warden/internal/infra/metrics"
	"warden/internal/infra/tracer"
	"warden/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "doctor":
			if err := runDoctor(os.Stdout, configPath(os.Args[2:])); err != nil {
				fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(configPath(os.Args[1:])); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`warden - chat assistant with approval-gated tools

USAGE:
    agent [COMMAND] [--config PATH]

COMMANDS:
    doctor      Check configuration, credentials and connectivity
    (no command) - Run the bot

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file (default: ./config.yaml, env WARDEN_CONFIG)

CONFIGURATION:
    Environment: WARDEN_* variables override config values.
    Build tags select optional integrations: slack, discord, bedrock.`)
}

// configPath resolves the config file from --config, WARDEN_CONFIG, or the default.
func configPath(args []string) string {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("config", "", "config file path")
	_ = fs.Parse(args)

	if *path != "" {
		return *path
	}
	if env := os.Getenv("WARDEN_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

func run(cfgPath string) error {
	// 1. Config
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = tracerShutdown(shutdownCtx)
	}()

	// 3. Event bus & metrics
	bus := eventbus.New(logger.Component(log, "eventbus"))
	defer bus.Close()

	var opsServer *metrics.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)
		defer m.Subscribe(bus)()
		opsServer = metrics.NewServer(ctx, cfg.Metrics, reg, logger.Component(log, "ops"))
	}

	// 4. LLM providers
	llmComp, err := initLLM(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 5. Platform
	platform, err := initPlatform(cfg.Platform, log)
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}

	// 6. Tools, approvals, agent
	agentComp, agentCleanup, err := initAgent(ctx, cfg, llmComp.DefaultLLM, platform, bus, log)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	defer agentCleanup()

	platform.OnMessage(func(ctx context.Context, msg domain.InboundMessage) error {
		_, err := agentComp.Agent.HandleMessage(ctx, msg)
		return err
	})
	platform.OnReaction(agentComp.Approvals.ResolveReaction)

	if err := agentComp.Approvals.Start(ctx); err != nil {
		return fmt.Errorf("approvals: %w", err)
	}
	defer agentComp.Approvals.Stop()

	if opsServer != nil {
		go func() {
			if err := opsServer.Start(); err != nil {
				log.Error("ops server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				log.Error("ops server shutdown error", "error", err)
			}
		}()
	}

	// 7. Start
	log.Info("warden starting",
		"platform", platform.Name(),
		"provider", llmComp.DefaultLLM.Name(),
		"providers", llmComp.Registry.List(),
		"operations", len(agentComp.Tools.Operations()),
		"approval_ttl", cfg.Approval.TTL(),
		"metrics", cfg.Metrics.Enabled,
	)

	err = platform.Start(ctx)

	stopCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if stopErr := platform.Stop(stopCtx); stopErr != nil {
		log.Error("platform stop error", "error", stopErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("platform %s: %w", platform.Name(), err)
	}
	log.Info("warden stopped")
	return nil
}
