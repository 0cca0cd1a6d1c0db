package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxfile/fluxfile/internal/config"
	"github.com/fluxfile/fluxfile/internal/delivery"
	"github.com/fluxfile/fluxfile/internal/fsx"
	"github.com/fluxfile/fluxfile/internal/logging"
	"github.com/fluxfile/fluxfile/internal/server"
	"github.com/fluxfile/fluxfile/internal/signaling"
)

var opts config.Options

var rootCmd = &cobra.Command{
	Use:   "fluxfile",
	Short: "File delivery and WebRTC signaling server",
	Long: `FluxFile serves files over HTTP with zero-copy transfers and
resumable range requests, streams directories as zip archives with
bounded memory, and brokers WebRTC session negotiation between peers
over websockets.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to YAML config file")
	serveCmd.Flags().StringVarP(&opts.ListenAddr, "listen", "l", "", "listen address (host:port)")
	serveCmd.Flags().StringVarP(&opts.RootPath, "root", "r", "", "served root directory")
	serveCmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.AddCommand(serveCmd)
}

func run() error {
	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel)

	resolver, err := fsx.NewResolver(cfg.RootPath, cfg.ForbiddenPaths)
	if err != nil {
		return err
	}

	engine := delivery.New(delivery.Options{
		MaxFileSize:       cfg.MaxFileSize,
		StreamChunkSize:   cfg.StreamChunkSize,
		SendfileChunkSize: cfg.SendfileChunkSize,
	})

	broker := signaling.NewBroker(signaling.Options{
		MessageRate:  cfg.SignalRate,
		MessageBurst: cfg.SignalBurst,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(cfg, resolver, engine, broker).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.ListenAddr, "root", resolver.Root())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
