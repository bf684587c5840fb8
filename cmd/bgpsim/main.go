package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nsg-ethz/bgpsim/event"
	"github.com/nsg-ethz/bgpsim/internal/config"
	"github.com/nsg-ethz/bgpsim/internal/feed"
	simhttp "github.com/nsg-ethz/bgpsim/internal/http"
	"github.com/nsg-ethz/bgpsim/internal/metrics"
	"github.com/nsg-ethz/bgpsim/internal/scenario"
	"github.com/nsg-ethz/bgpsim/internal/snapshot"
	"github.com/nsg-ethz/bgpsim/internal/store"
	"github.com/nsg-ethz/bgpsim/network"
	"github.com/nsg-ethz/bgpsim/ospf"
	"github.com/nsg-ethz/bgpsim/prefix"
	"github.com/nsg-ethz/bgpsim/route"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runOnce()
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bgpsim <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run           Simulate a scenario to convergence and print forwarding state")
	fmt.Println("  serve         Run the simulation service (HTTP, optional Kafka feed)")
	fmt.Println("  migrate       Create the results-store schema")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>     Path to configuration YAML file")
	fmt.Println("  --scenario <path>   Path to scenario YAML file")
	fmt.Println("  --snapshot <path>   Write a compressed snapshot after convergence (run)")
	fmt.Println("  --run-id <id>       Store results under this run id (run; needs postgres.dsn)")
	fmt.Println("  --log-level <lvl>   Override log level (debug, info, warn, error)")
}

type flags struct {
	configPath   string
	scenarioPath string
	snapshotPath string
	runID        string
	logLevel     string
}

func parseFlags(args []string) flags {
	var f flags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				f.configPath = args[i+1]
				i++
			}
		case "--scenario":
			if i+1 < len(args) {
				f.scenarioPath = args[i+1]
				i++
			}
		case "--snapshot":
			if i+1 < len(args) {
				f.snapshotPath = args[i+1]
				i++
			}
		case "--run-id":
			if i+1 < len(args) {
				f.runID = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				f.logLevel = args[i+1]
				i++
			}
		}
	}
	return f
}

func loadConfig(f flags) (*config.Config, *zap.Logger) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if f.logLevel != "" {
		cfg.Service.LogLevel = f.logLevel
	}
	return cfg, initLogger(cfg.Service.LogLevel)
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func baseNetworkConfig(cfg *config.Config, logger *zap.Logger) network.Config {
	pk, _ := prefix.ParseKind(cfg.Engine.PrefixMode)
	om, _ := ospf.ParseKind(cfg.Engine.OspfMode)

	var q event.Queue
	if cfg.Queue.Kind == "timed" {
		q = event.NewTimed(cfg.Queue.Seed)
	} else {
		q = event.NewFifo()
	}

	return network.Config{
		PrefixKind: pk,
		OspfMode:   om,
		Asn:        route.AsN(cfg.Engine.Asn),
		Queue:      q,
		StepBudget: cfg.Engine.StepBudget,
		MaxPaths:   cfg.Engine.MaxPaths,
		Logger:     logger,
	}
}

func buildScenario(f flags, cfg *config.Config, logger *zap.Logger) *network.Network {
	if f.scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --scenario is required")
		os.Exit(1)
	}
	sc, err := scenario.Load(f.scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading scenario: %v\n", err)
		os.Exit(1)
	}
	n, err := sc.Build(baseNetworkConfig(cfg, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building scenario: %v\n", err)
		os.Exit(1)
	}
	return n
}

func runOnce() {
	f := parseFlags(os.Args[2:])
	cfg, logger := loadConfig(f)
	defer logger.Sync()
	metrics.Register()

	n := buildScenario(f, cfg, logger)

	converged := true
	if err := n.Simulate(); err != nil {
		converged = false
		logger.Error("simulation did not converge", zap.Error(err))
	}

	if converged {
		fs, err := n.ForwardingState()
		if err != nil {
			logger.Fatal("extracting forwarding state", zap.Error(err))
		}
		out, err := json.MarshalIndent(fs, "", "  ")
		if err != nil {
			logger.Fatal("encoding forwarding state", zap.Error(err))
		}
		fmt.Println(string(out))
	}

	if f.snapshotPath != "" {
		if err := snapshot.Save(n, f.snapshotPath); err != nil {
			logger.Fatal("writing snapshot", zap.Error(err))
		}
		logger.Info("snapshot written", zap.String("path", f.snapshotPath))
	}

	if f.runID != "" {
		if cfg.Postgres.DSN == "" {
			logger.Fatal("--run-id requires postgres.dsn")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pool, err := store.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			logger.Fatal("connecting to results store", zap.Error(err))
		}
		defer pool.Close()
		if err := store.NewWriter(pool, logger).WriteRun(ctx, f.runID, n, converged); err != nil {
			logger.Fatal("storing run", zap.Error(err))
		}
	}

	if !converged {
		os.Exit(2)
	}
}

func runServe() {
	f := parseFlags(os.Args[2:])
	cfg, logger := loadConfig(f)
	defer logger.Sync()
	metrics.Register()

	n := buildScenario(f, cfg, logger)
	if err := n.Simulate(); err != nil {
		logger.Fatal("initial simulation did not converge", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var srv *simhttp.Server
	publish := func(net *network.Network) {
		fs, err := net.ForwardingState()
		if err != nil {
			logger.Error("extracting forwarding state", zap.Error(err))
			return
		}
		srv.SetForwarding(fs)
	}

	var fd *feed.Feed
	if cfg.Kafka.Enabled {
		var err error
		fd, err = feed.New(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topics,
			cfg.Kafka.ClientID, n, logger, publish)
		if err != nil {
			logger.Fatal("creating feed", zap.Error(err))
		}
	}
	var status simhttp.FeedStatus
	if fd != nil {
		status = fd
	}
	srv = simhttp.NewServer(cfg.Service.HTTPListen, status, logger)
	publish(n)

	if fd != nil {
		go func() {
			if err := fd.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("feed stopped", zap.Error(err))
			}
		}()
	}

	if err := srv.Start(); err != nil {
		logger.Fatal("starting http server", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	cancel()
	if fd != nil {
		fd.Close()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}

func runMigrate() {
	f := parseFlags(os.Args[2:])
	cfg, logger := loadConfig(f)
	defer logger.Sync()

	if cfg.Postgres.DSN == "" {
		logger.Fatal("migrate requires postgres.dsn")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := store.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("connecting to results store", zap.Error(err))
	}
	defer pool.Close()
	if err := store.Migrate(ctx, pool); err != nil {
		logger.Fatal("running migration", zap.Error(err))
	}
	logger.Info("schema created")
}
