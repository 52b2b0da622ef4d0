package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/api"
	"github.com/MikoAlt/scrapqt/internal/app"
)

// newScraperCmd runs the scraper service in the foreground.
func newScraperCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scraper",
		Short: "Run the scraper service",
		Long: `Runs the scraper HTTP service in the foreground. The service accepts
scrape requests, fans them out to the registered marketplace plugins, and
upserts normalized listings into the product store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), cfg.ScraperAddr(), func(a *app.App) http.Handler {
				server := api.NewScraperServer(a.Pipeline(), a.Store(), a.Logger().Named("api"))
				return server.Handler()
			})
		},
	}
}

// newSentimentCmd runs the sentiment service in the foreground.
func newSentimentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sentiment",
		Short: "Run the sentiment analysis service",
		Long: `Runs the sentiment HTTP service in the foreground. The service manages
the singleton background analysis job that scores unscored products through
the configured provider.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), cfg.SentimentAddr(), func(a *app.App) http.Handler {
				server := api.NewSentimentServer(a.Analysis(), a.Credentials(), a.Logger().Named("api"))
				return server.Handler()
			})
		},
	}
}

func runService(parent context.Context, addr string, build func(*app.App) http.Handler) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           build(a),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)
	logger.Info("shutdown complete")
	return nil
}
