// Package cli implements the uvrctl operator commands.
package cli

import (
	"context"
	"io"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/users"
)

// RoleMigrator assigns explicit roles to legacy accounts.
type RoleMigrator interface {
	MigrateLegacyRoles(ctx context.Context, prefix string, dryRun bool) ([]users.RoleAssignment, error)
}

// IntegrityRunner checks the ledger invariants.
type IntegrityRunner interface {
	Run(ctx context.Context, trigger string) ([]ledger.IntegrityIssue, error)
}

// JobQueue enqueues and inspects background jobs.
type JobQueue interface {
	Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// Runtime opens the collaborators a command needs. Each opener is called lazily so a
// command only connects to what it uses.
type Runtime struct {
	Migrate   func(ctx context.Context) error
	Roles     func(ctx context.Context) (RoleMigrator, error)
	Integrity func(ctx context.Context) (IntegrityRunner, error)
	Jobs      func(ctx context.Context) (JobQueue, error)
}

// NewRootCommand builds the uvrctl command tree.
func NewRootCommand(rt Runtime, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "uvrctl",
		Short: "Operator commands for the UVR finance service",
		Long: `uvrctl runs one-off maintenance tasks against the UVR database and job queue:
schema migrations, the legacy role migration, ledger integrity checks and
manual job triggers. Configuration is read from the same environment variables
as the API (PG_DSN, REDIS_ADDR, ...), with .env support.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.AddCommand(
		newMigrateCommand(rt),
		newUsersCommand(rt),
		newLedgerCommand(rt),
		newJobsCommand(rt),
	)
	return root
}
