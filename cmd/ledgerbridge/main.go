package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/olehkaliuzhnyi/ledger-bridge/internal/bridge"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/config"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/ledger"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/metrics"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/runner"
	"github.com/olehkaliuzhnyi/ledger-bridge/internal/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()
	if *showVersion {
		fmt.Printf("ledgerbridge version=%s\n", version)
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("ledgerbridge failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	logger := slog.Default().With("component", "main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	network, err := ledger.NewMemoryNetwork(ledger.NetworkConfig{
		Passphrase: cfg.NetworkPassphrase,
		MinimumFee: cfg.MinimumFee,
	})
	if err != nil {
		return fmt.Errorf("memory ledger: %w", err)
	}

	var sink transport.Sink = transport.NewLogSink(nil)
	var conn *nats.Conn
	if cfg.NATSURL != "" {
		conn, err = transport.Connect(cfg.NATSURL, "ledgerbridge", cfg.NATSConnectTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()
		sink = transport.NewNATSSink(conn, cfg.ReplySubjectPrefix)
		logger.Info("nats connected", "url", conn.ConnectedUrl())
	} else {
		logger.Warn("no NATS URL configured, replies are logged only")
	}

	b, err := bridge.New(bridge.Options{
		Factory: network.Factory(),
		Emitter: transport.NewChannel(cfg.Channel, sink, m),
		Runner: runner.Config{
			MaxConcurrent:  cfg.MaxConcurrentTasks,
			Timeout:        cfg.TaskTimeout,
			CallsPerSecond: cfg.SDKCallsPerSecond,
			Burst:          cfg.SDKBurst,
		},
		ConsumedHistory: cfg.ConsumedHistory,
		Metrics:         m,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("bridge close failed", "error", err)
		}
	}()

	if conn != nil {
		server := transport.NewNATSServer(b, cfg.InvokeSubject)
		if err := server.Start(ctx, conn); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Error("nats drain failed", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           transport.NewHTTPHandler(b, reg, network),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "channel", cfg.Channel, "operations", len(b.Operations()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
