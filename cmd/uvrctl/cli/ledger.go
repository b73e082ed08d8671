package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// ErrIntegrityViolations is returned by `ledger check` when invariants are broken.
var ErrIntegrityViolations = errors.New("ledger integrity violations found")

func newLedgerCommand(rt Runtime) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger maintenance",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Verify settled amounts, statuses and payment links of every invoice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.Integrity == nil {
				return errors.New("ledger: not configured")
			}
			runner, err := rt.Integrity(cmd.Context())
			if err != nil {
				return err
			}
			issues, err := runner.Run(cmd.Context(), "cli")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(out, "ledger consistent")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INVOICE\tPROBLEM\tTOTAL\tSETTLED\tLINKED\tSTATUS")
			for _, issue := range issues {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					issue.InvoiceID,
					issue.Problem,
					issue.DeclaredTotal.StringFixed(2),
					issue.AmountSettled.StringFixed(2),
					issue.Linked.StringFixed(2),
					issue.Status,
				)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failOn, _ := cmd.Flags().GetBool("fail-on-violations"); failOn {
				return fmt.Errorf("%w: %d", ErrIntegrityViolations, len(issues))
			}
			return nil
		},
	}
	check.Flags().Bool("fail-on-violations", true, "Exit with an error when violations are found")

	ledgerCmd.AddCommand(check)
	return ledgerCmd
}
