// Package cli implements keygatectl, the operator tool for keys, roles and
// sessions. It talks to the same database as the server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"keygate/internal/access"
	"keygate/internal/config"
	"keygate/internal/db"
	"keygate/internal/logger"

	"github.com/spf13/cobra"
)

// Execute creates the root command tree and runs it.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

// options are shared by every subcommand.
type options struct {
	configPath string
}

func newRootCmd(version string) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "keygatectl",
		Short: "Manage keygate API keys, roles and sessions",
		Long: `keygatectl generates API keys, edits roles, renews quotas and sweeps
expired dashboard sessions directly against the keygate database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "config file")

	cmd.AddCommand(newGenkeysCmd(opts))
	cmd.AddCommand(newKeyCmd(opts))
	cmd.AddCommand(newRenewCmd(opts))
	cmd.AddCommand(newRoleCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))

	return cmd
}

// env is the storage a command runs against.
type env struct {
	cfg      *config.Config
	database db.Service
	logger   *slog.Logger
}

func (o *options) open(cmd *cobra.Command) (*env, error) {
	cfg, _, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	database, err := db.NewService(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &env{
		cfg:      cfg,
		database: database,
		logger:   logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Debug),
	}, nil
}

func (e *env) close() {
	if err := e.database.Close(); err != nil {
		e.logger.Warn("Failed to close database", "error", err)
	}
}

func (e *env) engine() *access.Engine {
	return access.NewEngine(e.database, access.Options{
		CountOnly200:          e.cfg.Access.CountOnlySuccess(),
		LegacyCreatedAtExpiry: e.cfg.Access.LegacyCreatedAtExpiry,
	}, e.logger)
}

func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
