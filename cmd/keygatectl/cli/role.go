package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"keygate/internal/db"
	"keygate/internal/keygen"
	"keygate/internal/model"
	"keygate/internal/policy"

	"github.com/spf13/cobra"
)

func newRoleCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles",
		Long:  "List, set and sync the roles that carry default rate and quota limits for their keys.",
	}

	cmd.AddCommand(newRoleListCmd(opts))
	cmd.AddCommand(newRoleSetCmd(opts))
	cmd.AddCommand(newRoleSyncCmd(opts))

	return cmd
}

// ---------- role list ----------

func newRoleListCmd(opts *options) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			roles, err := e.database.ListRoles(ctx(cmd))
			if err != nil {
				return fmt.Errorf("list roles: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), roles)
			}
			if len(roles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No roles found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMIN INTERVAL\tMONTHLY CAP\tENDPOINTS")
			for _, r := range roles {
				fmt.Fprintf(w, "%s\t%gs\t%d\t%s\n",
					r.Name,
					policy.Resolve(nil, r.MinIntervalSeconds, policy.DefaultMinIntervalSeconds),
					policy.Resolve(nil, r.MaxMonthlyUsage, policy.DefaultMaxMonthlyUsage),
					strings.Join(r.AllowedEndpoints, ","),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- role set ----------

func newRoleSetCmd(opts *options) *cobra.Command {
	var (
		minInterval float64
		maxMonthly  int64
		endpoints   []string
	)

	cmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Create or update a role",
		Long:  "Create a role or update the given fields of an existing one. Fields whose flags are not passed keep their value.",
		Example: `  keygatectl role set pro --min-interval 0.5 --max-monthly 50000
  keygatectl role set free --endpoints /v1/chat,/v1/models`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return keygen.ErrRoleRequired
			}
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			role, err := e.database.FindRole(ctx(cmd), name)
			switch {
			case errors.Is(err, db.ErrNotFound):
				role = &model.Role{Name: name}
			case err != nil:
				return fmt.Errorf("find role: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("min-interval") {
				role.MinIntervalSeconds = &minInterval
			}
			if flags.Changed("max-monthly") {
				role.MaxMonthlyUsage = &maxMonthly
			}
			if flags.Changed("endpoints") {
				role.AllowedEndpoints = endpoints
			}
			if err := e.database.UpsertRole(ctx(cmd), role); err != nil {
				return fmt.Errorf("save role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Role %q saved.\n", name)
			return nil
		},
	}

	cmd.Flags().Float64Var(&minInterval, "min-interval", policy.DefaultMinIntervalSeconds, "Minimum seconds between calls")
	cmd.Flags().Int64Var(&maxMonthly, "max-monthly", policy.DefaultMaxMonthlyUsage, "Monthly request cap")
	cmd.Flags().StringSliceVar(&endpoints, "endpoints", nil, "Advisory list of allowed endpoints")

	return cmd
}

// ---------- role sync ----------

func newRoleSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync FILE",
		Short: "Replace all roles with the ones in a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			n, err := keygen.SyncRoles(ctx(cmd), e.database, args[0])
			if err != nil {
				return fmt.Errorf("sync roles: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d role(s) from %s\n", n, args[0])
			return nil
		},
	}
}
