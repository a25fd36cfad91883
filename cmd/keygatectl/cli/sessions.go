package cli

import (
	"fmt"

	"keygate/internal/session"

	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage dashboard login sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete expired dashboard sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			repo, closeRepo, err := session.OpenRepository(ctx(cmd), e.cfg.Session, e.database)
			if err != nil {
				return err
			}
			defer closeRepo()

			// The secret only signs tokens; sweeping never checks one.
			store, err := session.New(repo, session.Options{Secret: e.cfg.Session.Secret, Expiry: e.cfg.Session.ExpiryDuration})
			if err != nil {
				return err
			}
			removed, err := store.Sweep(ctx(cmd))
			if err != nil {
				return fmt.Errorf("sweep sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired session(s).\n", removed)
			return nil
		},
	})
	return cmd
}
