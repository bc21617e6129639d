package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/redhat-et/card-broker/broker-service/internal/proxy"
	"github.com/redhat-et/card-broker/pkg/logger"
	"github.com/redhat-et/card-broker/pkg/storage"
	"github.com/redhat-et/card-broker/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker service",
	Long:  `Start the token broker and authenticated proxy on the configured port.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:       serviceName,
		ServiceVersion:    version,
		Enabled:           cfg.OTel.Enabled,
		CollectorEndpoint: cfg.OTel.CollectorEndpoint,
		SampleRatio:       cfg.OTel.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer otelShutdown(ctx)

	log := logger.New(logger.ComponentProxy)

	stack, err := buildBroker(ctx, cfg)
	if err != nil {
		log.Failure("Broker setup failed", "error", err)
		return err
	}

	p, err := proxy.New(stack.tokens, proxy.Config{
		APIBaseURL:     cfg.Upstream.APIBaseURL,
		UserAgent:      cfg.Upstream.UserAgent,
		AcceptLanguage: cfg.Upstream.AcceptLanguage,
		HTTPClient:     stack.client,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	var handler http.Handler = proxy.NewRouter(p, proxy.RouterOptions{
		CORSOrigins:    cfg.Service.CORSOrigins,
		StaticDir:      cfg.Service.StaticDir,
		RequestTimeout: cfg.Service.WriteTimeout,
		Logger:         logger.New(logger.ComponentHTTP),
	})
	if cfg.OTel.Enabled {
		handler = telemetry.WrapHandler(handler, serviceName)
	}

	server := &http.Server{
		Addr:         cfg.Service.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}

	// Start separate plain HTTP health server for Kubernetes probes
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", handleHealth)
	healthMux.HandleFunc("/ready", readyHandler(stack.keyStore))
	healthMux.Handle("/metrics", promhttp.Handler())
	healthServer := &http.Server{
		Addr:         cfg.Service.HealthAddr(),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info("Shutting down broker service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Shutdown error", "error", err)
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Health server shutdown error", "error", err)
		}
		close(done)
	}()

	log.Section("STARTING BROKER SERVICE")
	log.Info("Broker Service starting", "addr", cfg.Service.Addr(), "version", version)
	log.Info("Health server starting", "addr", cfg.Service.HealthAddr())
	log.Info("Client", "client_id", cfg.Client.ClientID, "audience", cfg.Client.Audience)
	log.Info("Token endpoint", "url", stack.broker.TokenURL(), "mode", stack.broker.Mode())
	log.Info("Upstream API", "url", cfg.Upstream.APIBaseURL)
	log.Info("Token cache", "enabled", cfg.Broker.CacheTokens, "skew", cfg.Broker.ExpirySkew)
	if cfg.Service.StaticDir != "" {
		log.Info("Serving frontend", "dir", cfg.Service.StaticDir)
	}

	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Health server error", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info("Broker service stopped")
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// readyHandler reports ready once the process is serving. When the signing key
// lives in object storage the bucket must also be reachable.
func readyHandler(store storage.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "reason": "object storage unreachable"})
				return
			}
		}
		handleHealth(w, r)
	}
}
