package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/filedrop"
	"github.com/aretw0/filedrop/internal/config"
	"github.com/aretw0/filedrop/internal/logging"
	"github.com/aretw0/filedrop/internal/presentation/tui"
	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage stored sessions",
		Long: `List, inspect, and remove sessions held by a shared backend (redis or file).
The memory backend lives inside the server process and cannot be reached from here.`,
	}

	sessionCmd.PersistentFlags().String("backend", "", "Store backend: redis or file (overrides config)")
	sessionCmd.PersistentFlags().String("file-dir", "", "Session directory for the file backend (overrides config)")
	sessionCmd.PersistentFlags().String("redis-addr", "", "Redis address for the redis backend (overrides config)")

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List all stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.Store().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("error listing sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No active sessions found.")
				return nil
			}

			fmt.Fprintln(out, "Active Sessions:")
			for _, e := range entries {
				fmt.Fprintf(out, "- %s (ttl %s, %d keys)\n", e.ID, e.TTL, len(e.State))
			}
			return nil
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Inspect the state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.Store().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("error loading session '%s': %w", sessionID, err)
			}
			for _, e := range entries {
				if e.ID == sessionID {
					return printEntry(cmd.OutOrStdout(), e)
				}
			}
			return fmt.Errorf("session '%s': %w", sessionID, domain.ErrSessionNotFound)
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "rm <session-id>...",
		Short: "Remove one or more sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			var errs []error
			for _, sessionID := range args {
				if err := app.Store().Delete(cmd.Context(), sessionID); err != nil {
					errs = append(errs, fmt.Errorf("error removing '%s': %w", sessionID, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", sessionID)
			}
			return errors.Join(errs...)
		},
	})

	return sessionCmd
}

// openApp builds the configured store stack (encryption and redaction included)
// without serving anything.
func openApp(cmd *cobra.Command) (*filedrop.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Store.Backend = v
	}
	if v, _ := cmd.Flags().GetString("file-dir"); v != "" {
		cfg.Store.File.Dir = v
	}
	if v, _ := cmd.Flags().GetString("redis-addr"); v != "" {
		cfg.Store.Redis.Addr = v
	}

	if cfg.Store.Backend == config.BackendMemory {
		return nil, errors.New("the memory backend is process-local; select --backend redis or file")
	}

	return filedrop.New(cfg,
		filedrop.WithLogger(logging.NewNop()),
		filedrop.WithRegisterer(prometheus.NewRegistry()),
	)
}

// printEntry renders markdown on terminals and JSON everywhere else.
func printEntry(w io.Writer, e domain.Entry) error {
	if isTerminal(w) {
		render, err := tui.NewRenderer()
		if err != nil {
			return err
		}
		out, err := render(tui.SessionMarkdown(e))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
