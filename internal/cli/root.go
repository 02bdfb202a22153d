package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/histprobe/internal/core/config"
	"github.com/vietddude/histprobe/internal/core/domain"
	"github.com/vietddude/histprobe/internal/infra/rpc/provider"
	"github.com/vietddude/histprobe/internal/probe"
	"github.com/vietddude/histprobe/internal/probe/metrics"
	"github.com/vietddude/stylelog"
)

var (
	cfgPath      string
	isDebug      bool
	asJSON       bool
	timeout      time.Duration
	concurrency  int
	metricsAddr  string
	capabilities []string
	probeAddress string
)

var rootCmd = &cobra.Command{
	Use:   "histprobe [flags] RPC_URL",
	Short: "Blockchain node data-retention prober",
	Long: `Histprobe probes an EVM JSON-RPC node to find the oldest block at which
historical data is still served: block bodies, the transaction index,
archival state, the log index, and receipts.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runProbe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "config file (optional)")
	rootCmd.Flags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout (default 10s)")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "max in-flight probes during sampling")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	rootCmd.Flags().StringSliceVar(&capabilities, "capability", nil, "probe only these capabilities (repeatable)")
	rootCmd.Flags().StringVar(&probeAddress, "probe-address", "", "account to use for archival balance checks")
}

func runProbe(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := loadConfig(args)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	if cfg.Server.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.Server.MetricsAddr)
		go func() {
			if err := srv.Start(); err != nil {
				slog.Warn("Metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, cancelling run...", "signal", sig)
		cancel()
	}()

	p := provider.NewHTTPProvider("node", cfg.Node.URL, cfg.Node.Timeout)
	defer p.Close()

	slog.Info("Probing node", "endpoint", cfg.Node.URL)
	report, err := probe.NewRunner(p, cfg).Run(ctx)
	if err != nil {
		slog.Error("Probe run failed", "error", err)
		os.Exit(1)
	}

	stats := p.Monitor.GetStats()
	if stats.ThrottleCount429 > 0 || stats.ThrottleCount403 > 0 {
		slog.Warn("Endpoint throttled during the run",
			"throttled_429", stats.ThrottleCount429, "blocked_403", stats.ThrottleCount403)
	}
	slog.Debug("Endpoint stats",
		"requests", stats.RequestCount, "avg_latency", stats.AverageLatency)

	if asJSON {
		err = renderJSON(os.Stdout, report)
	} else {
		err = renderText(os.Stdout, report)
	}
	if err != nil {
		slog.Error("Failed to render report", "error", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment, and flags; flags win.
func loadConfig(args []string) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if len(args) > 0 {
		cfg.Node.URL = args[0]
	}
	if cfg.Node.URL == "" {
		cfg.Node.URL = os.Getenv("RPC_URL")
	}
	if cfg.Node.URL == "" {
		return nil, errors.New("no RPC endpoint: pass RPC_URL as an argument, set it in the config, or export RPC_URL")
	}

	if timeout > 0 {
		cfg.Node.Timeout = timeout
	}
	if concurrency > 0 {
		cfg.Probe.Concurrency = concurrency
	}
	if metricsAddr != "" {
		cfg.Server.MetricsAddr = metricsAddr
	}
	if probeAddress != "" {
		cfg.Probe.ProbeAddress = probeAddress
	}
	if len(capabilities) > 0 {
		caps := make([]domain.Capability, 0, len(capabilities))
		for _, c := range capabilities {
			cap := domain.Capability(c)
			if !cap.Valid() {
				return nil, fmt.Errorf("unknown capability %q", c)
			}
			caps = append(caps, cap)
		}
		cfg.Probe.Capabilities = caps
	}
	return cfg, nil
}
