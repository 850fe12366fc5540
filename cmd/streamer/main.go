package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tradevault/tickstream/api"
	"github.com/tradevault/tickstream/internal/config"
	"github.com/tradevault/tickstream/pkg/feed"
	"github.com/tradevault/tickstream/pkg/marketstatus"
	"github.com/tradevault/tickstream/pkg/models"
	"github.com/tradevault/tickstream/pkg/refdata"
	"github.com/tradevault/tickstream/pkg/stream"
	"github.com/tradevault/tickstream/pkg/tradovate"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "streamer",
		Short: "Real-time price and PnL streaming service",
		Long:  `Streams live futures prices and per-position unrealized PnL across brokerage sub-accounts, with historical fallback when the market is closed`,
		Run:   runStreamer,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runStreamer(cmd *cobra.Command, args []string) {
	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load .env before config so env overrides see it
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("No .env file loaded")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	flavor := models.VenueFlavor(cfg.Tradovate.Flavor)
	if flavor != models.FlavorLive {
		flavor = models.FlavorDemo
	}

	// Collaborators
	liveFeed := feed.NewLiveFeed(cfg.Databento.APIKey, logger)
	historical := feed.NewHistoricalClient(cfg.Databento.APIKey, cfg.Databento.HistBaseURL, cfg.Databento.Dataset, logger)
	broker := tradovate.NewClient(cfg.Tradovate.AccessToken, flavor, logger)
	contractCache := refdata.NewCache(broker, logger)

	detector := marketstatus.NewDetector(historical, marketstatus.Config{
		Lookback:     time.Duration(cfg.MarketStatus.LookbackMinutes) * time.Minute,
		StaleAfter:   time.Duration(cfg.MarketStatus.StaleAfterMinutes) * time.Minute,
		QueryTimeout: time.Duration(cfg.MarketStatus.QueryTimeoutSeconds) * time.Second,
		Permissive:   cfg.MarketStatus.Permissive,
	}, logger)

	streams := stream.NewService(liveFeed, historical, detector, broker, contractCache, stream.Config{
		Dataset:          cfg.Databento.Dataset,
		Schema:           cfg.Databento.Schema,
		SymbolSType:      cfg.Databento.SymbolSType,
		Flavor:           flavor,
		SnapshotLookback: time.Duration(cfg.Databento.SnapshotLookbackHours) * time.Hour,
	}, logger)

	verifier := api.NewTokenVerifier(cfg.Auth.JWTSigningKey)
	apiServer := api.NewServer(streams, detector, historical, verifier, logger, fmt.Sprintf("%d", cfg.Server.Port))

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Streamer is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}

	logger.Info("Streamer stopped")
}
