package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/chatzzk/internal/bus"
	"github.com/you/chatzzk/internal/config"
	"github.com/you/chatzzk/internal/sink"
	"github.com/you/chatzzk/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag bool
		natsURL     string
		storeFlag   string
		metricsAddr string
	)
	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&natsURL, "nats-url", "", "Bus URL (overrides CHATZZK_NATS_URL)")
	flag.StringVar(&storeFlag, "store", "", "Store backend: postgres or sqlite")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics address (e.g., :9102)")
	flag.Parse()

	if versionFlag {
		fmt.Printf("persister version: %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.BuildTime)
		os.Exit(0)
	}

	cfg := config.Load()
	if natsURL != "" {
		cfg.Bus.URL = natsURL
	}
	if storeFlag != "" {
		cfg.Store.Backend = storeFlag
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("persister: open store: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("persister: ping store: %v", err)
	}

	sub, err := bus.NewSubscriber(bus.SubscriberConfig{
		URL:     cfg.Bus.URL,
		Stream:  cfg.Bus.Stream,
		Subject: cfg.Bus.Subject,
		Durable: cfg.Bus.Durable,
		Workers: cfg.Bus.Workers,
	})
	if err != nil {
		log.Fatalf("persister: bus subscriber: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("persister: received %s, shutting down", sig)
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	consumer := sink.NewConsumer(store)
	log.Printf("persister: consuming %s with %d workers", cfg.Bus.Subject, cfg.Bus.Workers)
	sub.Run(ctx, func(ctx context.Context, msg *nats.Msg) {
		consumer.Handle(ctx, sink.WrapNats(msg))
	})

	// Best-effort teardown, every step attempted: subscription workers have
	// already stopped with the context; then the bus client, then the pool.
	if err := sub.Close(); err != nil {
		log.Printf("persister: bus close: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Printf("persister: store close: %v", err)
	}
	log.Printf("persister: shutdown complete")
}

func openStore(ctx context.Context, cfg config.Config) (sink.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return sink.OpenSQLite(cfg.Store.SQLite)
	case "postgres":
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return sink.OpenPostgres(openCtx, sink.PostgresOptions{
			DSN:      cfg.Store.DSN,
			MinConns: int32(cfg.Store.PoolMin),
			MaxConns: int32(cfg.Store.PoolMax),
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	log.Printf("persister: metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("persister: metrics listener: %v", err)
	}
}
