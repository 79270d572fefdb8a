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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/chatzzk/internal/bus"
	"github.com/you/chatzzk/internal/chzzk"
	"github.com/you/chatzzk/internal/collector"
	"github.com/you/chatzzk/internal/config"
	"github.com/you/chatzzk/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag   bool
		streamersPath string
		cookiesPath   string
		natsURL       string
		metricsAddr   string
	)
	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&streamersPath, "streamers", "", "Path to the streamer list JSON")
	flag.StringVar(&cookiesPath, "cookies", "", "Path to the cookie bundle JSON")
	flag.StringVar(&natsURL, "nats-url", "", "Bus URL (overrides CHATZZK_NATS_URL)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics address (e.g., :9101)")
	flag.Parse()

	if versionFlag {
		fmt.Printf("collector version: %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.BuildTime)
		os.Exit(0)
	}

	cfg := config.Load()
	if streamersPath != "" {
		cfg.Chat.StreamersPath = streamersPath
	}
	if cookiesPath != "" {
		cfg.Chat.CookiesPath = cookiesPath
	}
	if natsURL != "" {
		cfg.Bus.URL = natsURL
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	log.Printf("%s", cfg.SummaryJSON())

	streamers, err := config.LoadStreamers(cfg.Chat.StreamersPath)
	if err != nil {
		log.Fatalf("collector: streamer list: %v", err)
	}
	if len(streamers) == 0 {
		log.Fatalf("collector: streamer list %s is empty", cfg.Chat.StreamersPath)
	}

	cookies, err := collector.NewCookieSource(cfg.Chat.CookiesPath)
	if err != nil {
		log.Fatalf("collector: cookie bundle: %v", err)
	}
	if err := cookies.Watch(); err != nil {
		log.Printf("collector: cookie watch disabled: %v", err)
	}

	pub, err := bus.NewPublisher(bus.PublisherConfig{
		URL:           cfg.Bus.URL,
		Stream:        cfg.Bus.Stream,
		Subject:       cfg.Bus.Subject,
		MaxBatch:      cfg.Publish.MaxBatch,
		MaxBatchBytes: cfg.Publish.MaxBatchBytes,
		FlushInterval: cfg.FlushInterval(),
	})
	if err != nil {
		log.Fatalf("collector: bus publisher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("collector: received %s, shutting down", sig)
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	api := chzzk.NewClient(cookies.Cookies)
	col := collector.New(collector.Options{
		Streamers:          streamers,
		Endpoint:           cfg.Chat.Endpoint,
		RecheckMinInterval: cfg.RecheckInterval(),
	}, api, pub)

	runErr := col.Run(ctx)

	// Shutdown: sessions have stopped emitting; flush and close the bus last.
	if err := pub.Close(); err != nil {
		log.Printf("collector: bus close: %v", err)
	}

	if runErr != nil && ctx.Err() == nil {
		log.Fatalf("collector: %v", runErr)
	}
	log.Printf("collector: shutdown complete")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	log.Printf("collector: metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("collector: metrics listener: %v", err)
	}
}
