// paygated serves payment-protected endpoints plus the receipt audit
// surface and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prompthash/paygate"
	"github.com/prompthash/paygate/config"
	"github.com/prompthash/paygate/ledger"
	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/metrics"
	"github.com/prompthash/paygate/receipts"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	cfg, err := config.Load(config.OSEnv)
	if err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.NewZapLogger(cfg.LogLevel)

	opts := []paygate.Option{
		paygate.WithLogger(log),
		paygate.WithMetrics(metrics.NewPrometheusRecorder()),
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: 2 * time.Second,
	})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Warn("redis unavailable, using in-memory daily-spend ledger", map[string]any{"error": err.Error()})
	} else {
		opts = append(opts, paygate.WithLedgerStore(ledger.NewRedisStore(redisClient)))
		defer redisClient.Close()
	}

	if cfg.PostgresDSN != "" {
		store, err := receipts.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("failed to open receipt store", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, paygate.WithReceiptStore(store))
	} else {
		log.Warn("no postgres DSN configured, receipts are in-memory only", nil)
	}

	pg := paygate.New(cfg, opts...)

	premium, err := pg.Protect(
		"/api/premium/generate",
		pg.DefaultRouteConfig("Premium generation API access"),
		http.HandlerFunc(generateHandler),
	)
	if err != nil {
		log.Error("failed to protect premium route", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/premium/generate", premium)
	mux.Handle("/api/payments/receipts", pg.ReceiptsHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	port := os.Getenv("PAYGATE_PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		IdleTimeout:  60 * time.Second,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", map[string]any{"error": err.Error()})
			cancel()
		}
	}()

	log.Info("paygated listening", map[string]any{
		"port":        port,
		"network":     cfg.Primary.Network().String(),
		"facilitator": cfg.FacilitatorURL,
	})

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", map[string]any{"error": err.Error()})
	}
}

func generateHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"result": "premium content",
	})
}
