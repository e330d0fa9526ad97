package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/StefanKunde/DeployPilot-User-Agent/config"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/agent"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/build"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/communicator"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/executor"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/handler"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/kube"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/logging"
	"github.com/StefanKunde/DeployPilot-User-Agent/internal/stats"
)

func main() {
	// A .env file is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPath)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("agent exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := executor.NewShellRunner(logger.Named("shell"))
	collector := stats.NewCollector(runner, logger.Named("stats"))
	driver := kube.NewDriver(runner, logger.Named("kube"))

	client := communicator.NewClient(communicator.ClientConfig{
		BackendURL:  cfg.BackendURL,
		ServerToken: cfg.ServerToken,
		Logger:      logger.Named("client"),
	})
	relay := communicator.NewLogRelay(client, logger.Named("relay"))

	inspector, err := build.NewDockerInspector()
	if err != nil {
		return fmt.Errorf("docker daemon unavailable: %w", err)
	}
	engine := build.NewEngine(runner, relay, inspector, cfg.BuildRoot, logger.Named("build"))

	processor := handler.NewProcessor(client, relay, driver, engine, logger.Named("handler"))

	registerRequest := func(ctx context.Context) communicator.RegisterRequest {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		return communicator.RegisterRequest{
			Hostname:    hostname,
			KubeVersion: driver.ServerVersion(ctx),
			Resources:   collector.HostResources(ctx),
		}
	}

	if _, err := client.RegisterWithRetry(ctx, registerRequest(ctx)); err != nil {
		// Degraded start: the heartbeat loop retries registration before
		// every beat until it succeeds.
		logger.Warn("initial registration exhausted retries, continuing degraded", zap.Error(err))
	}

	errs := agent.NewErrorTracker()
	controlLoop := agent.NewControlLoop(client, processor, cfg.MaxConcurrentCommands, cfg.PollInterval, errs, logger.Named("poll"))
	heartbeat := agent.NewHeartbeatLoop(client, collector, controlLoop, errs,
		func(ctx context.Context) error {
			return client.EnsureRegistered(ctx, registerRequest(ctx))
		},
		cfg.HeartbeatInterval, logger.Named("heartbeat"))

	probe := executor.NewServiceProbe(runner)
	server := communicator.NewServer(client, driver, probe, cfg.Port, logger.Named("http"))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		controlLoop.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		heartbeat.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		relay.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return server.Listen()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return server.Shutdown()
	})

	logger.Info("agent started",
		zap.String("backend_url", cfg.BackendURL),
		zap.Int("max_concurrent_commands", cfg.MaxConcurrentCommands),
		zap.Int("port", cfg.Port),
	)

	return group.Wait()
}
