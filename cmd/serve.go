package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/camden-git/albumconverter/handlers"
	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/workers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var secureCookies bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the conversion workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "mark session cookies Secure (serve behind TLS)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.hub.Run(ctx)

	logger.Info("initializing conversion worker pool",
		zap.Int("workers", cfg.ConversionWorkers),
		zap.Int("queue_size", cfg.ConversionQueueSize))
	queue := workers.NewConversionQueue(a.sqlDB, a.conversion, cfg.ConversionQueueSize, cfg.ConversionWorkers)
	a.conversion.SetQueue(queue)
	if _, err := queue.Recover(); err != nil {
		logger.Error("failed to recover unfinished conversion jobs", zap.Error(err))
	}

	sweeper := workers.NewRetentionSweeper(a.retention, cfg.RetentionSweepInterval, cfg.RetentionDays)
	sweeper.Start(ctx)

	router := handlers.NewRouter(handlers.RouterDeps{
		Cfg:           cfg,
		Albums:        a.albums,
		Conversion:    a.conversion,
		Auth:          a.auth,
		Hub:           a.hub,
		SecureCookies: secureCookies,
	})

	serverAddr := ":" + cfg.Port
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          logger.Std("http: "),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			sweeper.Stop()
			queue.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}
	sweeper.Stop()
	queue.Stop()
	logger.Info("server stopped")
	return nil
}
