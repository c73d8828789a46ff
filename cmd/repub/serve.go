package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-repub/internal/container"
	"go-repub/internal/logger"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the repub HTTP server",
	Long: `Start the repub HTTP server.

Jobs left processing or finalizing by a previous run are marked failed
on startup and can be retried.

Examples:
  repub serve                    # Start on the configured port
  repub serve --port 3000        # Start on custom port
  repub serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		c, err := container.NewContainer(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		server := &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      c.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.WithFields(logrus.Fields{
				"address": cfg.ServerAddress(),
				"version": container.Version,
			}).Info("Starting HTTP server")
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on (overrides config)")

	rootCmd.AddCommand(serveCmd)
}
