package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"keygate/internal/access"
	"keygate/internal/keygen"

	"github.com/spf13/cobra"
)

// ---------- genkeys ----------

func newGenkeysCmd(opts *options) *cobra.Command {
	var (
		req keygen.Request
		out string
	)

	cmd := &cobra.Command{
		Use:   "genkeys",
		Short: "Generate API keys for a role",
		Long:  "Generate a batch of API keys bound to an existing role and write them to a file, one key per line.",
		Example: `  keygatectl genkeys --role pro --days 90 --count 10
  keygatectl genkeys --role free --out /tmp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			now := time.Now()
			keys, err := keygen.Generate(ctx(cmd), e.database, req, now)
			if err != nil {
				return fmt.Errorf("generate keys: %w", err)
			}
			path, err := keygen.WriteKeyFile(out, req, keys, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d key(s) for role %q, written to %s\n", len(keys), keys[0].Role, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Role, "role", "", "Role to bind the keys to (required)")
	cmd.Flags().IntVar(&req.DaysValid, "days", 30, "Days each key stays valid after first use")
	cmd.Flags().IntVar(&req.Count, "count", 1, "Number of keys to generate")
	cmd.Flags().StringVar(&out, "out", ".", "Directory to write the key file to")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

// ---------- key ----------

func newKeyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Inspect API keys",
	}
	cmd.AddCommand(newKeyListCmd(opts))
	return cmd
}

func newKeyListCmd(opts *options) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys with their usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			keys, err := e.database.ListAPIKeys(ctx(cmd))
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), keys)
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No API keys found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tROLE\tUSED\tEXPIRES")
			for _, k := range keys {
				expires := "-"
				if k.ExpiresAt != nil {
					expires = k.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", k.Key, k.Role, k.RequestCountMonth, expires)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- renew ----------

func newRenewCmd(opts *options) *cobra.Command {
	var (
		renewal access.RenewalOptions
		days    int
	)

	cmd := &cobra.Command{
		Use:   "renew KEY",
		Short: "Add quota and validity to an API key",
		Example: `  keygatectl renew 6f1c... --requests 5000
  keygatectl renew 6f1c... --requests 5000 --days 60 --reset`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("days") {
				renewal.AdditionalDays = &days
			}
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			key, err := e.engine().Renew(ctx(cmd), args[0], renewal)
			if err != nil {
				return fmt.Errorf("renew key: %w", err)
			}
			if key == nil {
				return fmt.Errorf("api key %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renewed %s: quota %d, expires %s\n",
				key.Key, *key.MaxMonthlyUsage, key.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().Int64Var(&renewal.AdditionalRequests, "requests", 0, "Requests to add to the key's monthly cap (required)")
	cmd.Flags().IntVar(&days, "days", access.DefaultRenewalDays, "Days to extend the expiration by")
	cmd.Flags().BoolVar(&renewal.ResetUsageCount, "reset", false, "Restart the usage window")
	_ = cmd.MarkFlagRequired("requests")

	return cmd
}
