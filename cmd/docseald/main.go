// Command docseald runs the document signing service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docseal/docseal/audit"
	"github.com/docseal/docseal/config"
	"github.com/docseal/docseal/delivery"
	"github.com/docseal/docseal/httpapi"
	"github.com/docseal/docseal/internal/logging"
	"github.com/docseal/docseal/internal/metrics"
	"github.com/docseal/docseal/signer"
	"github.com/docseal/docseal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("prod", "error").Fatal("invalid configuration", zap.Error(err))
	}

	log := logging.New(cfg.AppEnv, os.Getenv("LOG_LEVEL"))
	defer func() { _ = log.Sync() }()

	svc, err := signer.NewFromConfig(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize signing service", zap.Error(err))
	}

	store, err := storage.New(cfg.Storage.Dir, cfg.Storage.DownloadTokenTTL, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	var email, sms delivery.Deliverer
	if cfg.Delivery.SMTPHost != "" {
		email = delivery.NewEmail(
			cfg.Delivery.SMTPHost,
			cfg.Delivery.SMTPPort,
			cfg.Delivery.SMTPUsername,
			cfg.Delivery.SMTPPassword,
			cfg.Delivery.SMTPFrom,
		)
	}
	if cfg.Delivery.SMSGatewayURL != "" {
		sms = delivery.NewSMS(cfg.Delivery.SMSGatewayURL)
	}

	metricsHandler, err := metrics.Register(nil)
	if err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	api := httpapi.New(svc, store, email, sms, audit.New(log), log)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}
