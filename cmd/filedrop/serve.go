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

	"github.com/aretw0/filedrop"
	"github.com/aretw0/filedrop/internal/presentation/tui"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Starts the upload site, the session dump and the health and metrics endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host, _ = cmd.Flags().GetString("host")
			}

			app, err := filedrop.New(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if isTerminal(os.Stdout) {
				tui.PrintBanner(os.Stdout, filedrop.Version, cfg.Addr())
			}

			srv := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           app.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Channel to listen for errors coming from the listener.
			serverErrors := make(chan error, 1)

			// Background maintenance never takes the listener down.
			go func() {
				if err := app.Run(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Background maintenance stopped: %v\n", err)
				}
			}()
			go func() {
				fmt.Fprintf(cmd.ErrOrStderr(), "Starting filedrop on %s\n", srv.Addr)
				serverErrors <- srv.ListenAndServe()
			}()

			// Channel to listen for interrupt or terminate signals.
			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(shutdown)

			// Blocking main and waiting for shutdown.
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-shutdown:
				fmt.Fprintf(cmd.ErrOrStderr(), "\nStart shutdown... Signal: %v\n", sig)
				cancel()

				// Give outstanding requests a deadline for completion.
				shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
				defer stop()

				// Asking listener to shut down and shed load.
				if err := srv.Shutdown(shutdownCtx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Graceful shutdown did not complete in %v: %v\n", shutdownTimeout, err)
					if err := srv.Close(); err != nil {
						return fmt.Errorf("error killing server: %w", err)
					}
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "filedrop stopped gracefully")
				return nil
			}
		},
	}

	serveCmd.Flags().IntP("port", "p", 8081, "Port to listen on (overrides config)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind (overrides config)")
	return serveCmd
}
