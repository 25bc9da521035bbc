package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-index/internal/chain/rpc"
	"lending-index/internal/history"
	"lending-index/internal/indexer"
	"lending-index/internal/ingestion"
	"lending-index/internal/observability"
	"lending-index/internal/oracle"
	"lending-index/internal/reconcile"
	"lending-index/internal/storage"
	chstore "lending-index/internal/storage/clickhouse"
	"lending-index/internal/storage/memory"
	"lending-index/internal/storage/migrations"
	pgstore "lending-index/internal/storage/postgres"
)

func main() {
	// Parse flags
	wsEndpoint := flag.String("ws-endpoint", "", "Event feed WebSocket endpoint")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Ethereum archive node HTTP endpoint")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (native protocol)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	blockLagWindow := flag.Int64("block-lag-window", 2, "Blocks to buffer before processing, absorbing delivery skew")
	flushInterval := flag.Duration("flush-interval", 5*time.Second, "Forced flush interval for buffered blocks")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err := run(ctx, logger, *wsEndpoint, *rpcEndpoint, *postgresDSN, *clickhouseDSN, *useMemory, *blockLagWindow, *flushInterval)

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// run wires storage, the chain reader, the reconcilers and the event stream,
// then blocks in the ingestion runner until shutdown.
func run(ctx context.Context, logger *log.Logger, wsEndpoint, rpcEndpoint, postgresDSN, clickhouseDSN string, useMemory bool, blockLagWindow int64, flushInterval time.Duration) error {
	if wsEndpoint == "" {
		return fmt.Errorf("--ws-endpoint is required")
	}
	if rpcEndpoint == "" {
		return fmt.Errorf("--rpc-endpoint is required")
	}
	if !useMemory && (postgresDSN == "" || clickhouseDSN == "") {
		return fmt.Errorf("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Create stores (use interfaces)
	var protocolStore storage.ProtocolStore = memory.NewProtocolStore()
	var marketStore storage.MarketStore = memory.NewMarketStore()
	var userStore storage.UserStore = memory.NewUserStore()
	var userMarketStore storage.UserMarketStore = memory.NewUserMarketStore()
	var eventLogStore storage.EventLogStore = memory.NewEventLogStore()
	var marketBucketStore storage.MarketBucketStore = memory.NewMarketBucketStore()
	var protocolBucketStore storage.ProtocolBucketStore = memory.NewProtocolBucketStore()

	if !useMemory {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}

		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		defer conn.Close()

		protocolStore = pgstore.NewProtocolStore(pool)
		marketStore = pgstore.NewMarketStore(pool)
		userStore = pgstore.NewUserStore(pool)
		userMarketStore = pgstore.NewUserMarketStore(pool)
		eventLogStore = pgstore.NewEventLogStore(pool)
		marketBucketStore = chstore.NewMarketBucketStore(conn)
		protocolBucketStore = chstore.NewProtocolBucketStore(conn)
	}

	// Resume the subscription set from the markets already known to storage.
	knownMarkets, err := loadKnownMarkets(ctx, protocolStore)
	if err != nil {
		return fmt.Errorf("load known markets: %w", err)
	}
	logger.Printf("Resuming with %d known markets", len(knownMarkets))

	// Chain reader against the archive node
	reader := rpc.NewReader(rpc.NewHTTPClient(rpcEndpoint), logger)
	resolver := oracle.NewResolver(reader, protocolStore, logger)

	// Reconcilers and history recorder
	marketRec := reconcile.NewMarketReconciler(marketStore, protocolStore, reader, resolver, logger)
	protocolRec := reconcile.NewProtocolReconciler(protocolStore, marketStore, logger)
	userRec := reconcile.NewUserReconciler(userStore, userMarketStore, marketStore, reader, logger)
	recorder := history.NewRecorder(marketStore, protocolStore, marketBucketStore, protocolBucketStore, logger)

	// Event feed; the source doubles as the market registry so newly listed
	// markets extend the live subscription.
	source, err := ingestion.NewWSEventSource(ctx, wsEndpoint, knownMarkets, nil, logger)
	if err != nil {
		return fmt.Errorf("connect event feed: %w", err)
	}
	defer source.Close()

	ix := indexer.New(marketStore, protocolStore, eventLogStore, marketRec, protocolRec, userRec, recorder, source, logger)

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:         source,
		Handler:        ix,
		BlockLagWindow: blockLagWindow,
		FlushInterval:  flushInterval,
		Logger:         logger,
	})

	logger.Println("Starting live indexing...")
	return runner.Run(ctx)
}

// loadKnownMarkets returns the protocol's market list as addresses. A missing
// protocol row means a fresh deployment with nothing to resume.
func loadKnownMarkets(ctx context.Context, protocols storage.ProtocolStore) ([]common.Address, error) {
	protocol, err := protocols.Get(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	markets := make([]common.Address, 0, len(protocol.Markets))
	for _, addr := range protocol.Markets {
		markets = append(markets, common.HexToAddress(addr))
	}
	return markets, nil
}
