package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newUsersCommand(rt Runtime) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "User administration",
	}

	migrateRoles := &cobra.Command{
		Use:   "migrate-roles",
		Short: "Assign explicit roles to accounts created before roles existed",
		Long: `Assign an explicit role to every user without one. Usernames starting with the
given prefix become unit users, every other account becomes an admin. The command
runs once; afterwards roles are only read from the role column.`,
		Example: `  # Preview the assignments
  uvrctl users migrate-roles --prefix uvr --dry-run

  # Apply them
  uvrctl users migrate-roles --prefix uvr`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if strings.TrimSpace(prefix) == "" {
				return errors.New("--prefix is required")
			}
			if rt.Roles == nil {
				return errors.New("users: not configured")
			}
			migrator, err := rt.Roles(cmd.Context())
			if err != nil {
				return err
			}
			assignments, err := migrator.MigrateLegacyRoles(cmd.Context(), strings.TrimSpace(prefix), dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(assignments) == 0 {
				fmt.Fprintln(out, "every user already has a role")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER ID\tUSERNAME\tROLE")
			for _, a := range assignments {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", a.UserID, a.Username, a.Role)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(out, "dry run: %d users would be updated\n", len(assignments))
			} else {
				fmt.Fprintf(out, "%d users updated\n", len(assignments))
			}
			return nil
		},
	}
	migrateRoles.Flags().String("prefix", "", "Username prefix of unit accounts")
	migrateRoles.Flags().Bool("dry-run", false, "Print the assignments without writing them")

	usersCmd.AddCommand(migrateRoles)
	return usersCmd
}
