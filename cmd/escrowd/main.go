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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowchain/config"
	"escrowchain/core/genesis"
	"escrowchain/core/journal"
	"escrowchain/core/ledger"
	"escrowchain/observability/logging"
	telemetry "escrowchain/observability/otel"
	"escrowchain/rpc"
	"escrowchain/storage"
)

const (
	envName        = "ESCROW_ENV"
	genesisPathEnv = "ESCROW_GENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides ESCROW_GENESIS and config GenesisFile)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag); err != nil {
		slog.Error("escrowd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, genesisFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv(envName))
	logger := logging.Setup("escrowd", env, logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
		File:  cfg.LogFile,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "escrowd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	node, err := openNode(context.Background(), cfg, resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv), logger)
	if err != nil {
		return err
	}
	defer node.Close()

	server, err := rpc.NewServer(node.ledger, rpc.ServerConfig{
		AuthToken:         cfg.RPCAuthToken,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
	}, logger)
	if err != nil {
		return fmt.Errorf("create rpc server: %w", err)
	}
	servers := []*http.Server{newHTTPServer(cfg.RPCAddress, server.Handler())}
	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, newHTTPServer(addr, mux))
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			logger.Info("escrowd listening", slog.String("addr", srv.Addr))
			errs <- srv.ListenAndServe()
		}()
	}

	var serveErr error
	select {
	case <-stopCtx.Done():
		logger.Info("escrowd shutting down")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	}
	return serveErr
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// node owns the storage handles behind a running ledger.
type node struct {
	db     *storage.LevelDB
	ledger *ledger.Ledger
}

func (n *node) Close() {
	if n.ledger != nil {
		_ = n.ledger.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
}

// openNode opens state and journal under cfg.DataDir and seeds an empty
// ledger from genesisPath.
func openNode(ctx context.Context, cfg *config.Config, genesisPath string, logger *slog.Logger) (*node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	j, err := journal.Open(filepath.Join(cfg.DataDir, "journal"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	l, err := ledger.New(db, j,
		ledger.WithChainID(cfg.ChainID),
		ledger.WithDeposits(ledger.Deposits{
			EscrowRecord: cfg.Deposits.EscrowRecord,
			TokenAccount: cfg.Deposits.TokenAccount,
			Mint:         cfg.Deposits.Mint,
		}),
		ledger.WithLogger(logger))
	if err != nil {
		_ = j.Close()
		db.Close()
		return nil, err
	}
	n := &node{db: db, ledger: l}

	if genesisPath == "" {
		if l.Height() == 0 {
			logger.Warn("starting without genesis; ledger is empty")
		}
		return n, nil
	}
	doc, err := genesis.LoadGenesisSpec(genesisPath)
	if err != nil {
		n.Close()
		return nil, err
	}
	receipt, applied, err := l.ApplyGenesis(ctx, doc)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis applied",
			slog.Uint64("seq", receipt.Seq),
			slog.String("root", receipt.Root.Hex()))
	}
	return n, nil
}

func resolveGenesisPath(flagValue, configValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if value, ok := lookup(genesisPathEnv); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(configValue)
}
