package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/users"
	"github.com/uvr-coop/uvr/jobs"
)

type stubRoles struct {
	prefix string
	dryRun bool
	result []users.RoleAssignment
}

func (s *stubRoles) MigrateLegacyRoles(_ context.Context, prefix string, dryRun bool) ([]users.RoleAssignment, error) {
	s.prefix = prefix
	s.dryRun = dryRun
	return s.result, nil
}

type stubIntegrity struct {
	issues  []ledger.IntegrityIssue
	trigger string
}

func (s *stubIntegrity) Run(_ context.Context, trigger string) ([]ledger.IntegrityIssue, error) {
	s.trigger = trigger
	return s.issues, nil
}

type stubQueue struct {
	triggered []string
}

func (s *stubQueue) Trigger(_ context.Context, name string) (*asynq.TaskInfo, error) {
	if name != jobs.TaskLedgerIntegrity {
		return nil, errors.New("jobs cli: unsupported job " + name)
	}
	s.triggered = append(s.triggered, name)
	return &asynq.TaskInfo{ID: "t-1", Type: name, Queue: jobs.QueueDefault}, nil
}

func (s *stubQueue) InspectQueue(context.Context) (QueueStats, error) {
	return QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, nil
}

func run(t *testing.T, rt Runtime, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(rt, &out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	called := false
	out, err := run(t, Runtime{Migrate: func(context.Context) error {
		called = true
		return nil
	}}, "migrate")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Contains(t, out, "schema up to date")
}

func TestMigrateRolesCommand(t *testing.T) {
	roles := &stubRoles{result: []users.RoleAssignment{
		{UserID: 1, Username: "uvr_norte", Role: users.RoleUnitUser},
		{UserID: 2, Username: "maria", Role: users.RoleAdmin},
	}}
	rt := Runtime{Roles: func(context.Context) (RoleMigrator, error) { return roles, nil }}

	out, err := run(t, rt, "users", "migrate-roles", "--prefix", "uvr", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "uvr", roles.prefix)
	assert.True(t, roles.dryRun)
	assert.Contains(t, out, "uvr_norte")
	assert.Contains(t, out, "UNIT_USER")
	assert.Contains(t, out, "dry run: 2 users would be updated")
}

func TestMigrateRolesRequiresPrefix(t *testing.T) {
	rt := Runtime{Roles: func(context.Context) (RoleMigrator, error) { return &stubRoles{}, nil }}
	_, err := run(t, rt, "users", "migrate-roles")
	require.Error(t, err)
}

func TestLedgerCheck(t *testing.T) {
	clean := &stubIntegrity{}
	rt := Runtime{Integrity: func(context.Context) (IntegrityRunner, error) { return clean, nil }}
	out, err := run(t, rt, "ledger", "check")
	require.NoError(t, err)
	assert.Equal(t, "cli", clean.trigger)
	assert.Contains(t, out, "ledger consistent")

	broken := &stubIntegrity{issues: []ledger.IntegrityIssue{{
		InvoiceID:     42,
		Problem:       "settled amount exceeds declared total",
		DeclaredTotal: decimal.RequireFromString("10"),
		AmountSettled: decimal.RequireFromString("12"),
		Linked:        decimal.RequireFromString("12"),
		Status:        ledger.StatusSettled,
	}}}
	rt = Runtime{Integrity: func(context.Context) (IntegrityRunner, error) { return broken, nil }}
	out, err = run(t, rt, "ledger", "check")
	require.ErrorIs(t, err, ErrIntegrityViolations)
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "12.00")

	_, err = run(t, rt, "ledger", "check", "--fail-on-violations=false")
	require.NoError(t, err)
}

func TestJobsCommands(t *testing.T) {
	queue := &stubQueue{}
	rt := Runtime{Jobs: func(context.Context) (JobQueue, error) { return queue, nil }}

	out, err := run(t, rt, "jobs", "trigger", jobs.TaskLedgerIntegrity)
	require.NoError(t, err)
	assert.Equal(t, []string{jobs.TaskLedgerIntegrity}, queue.triggered)
	assert.Contains(t, out, "enqueued ledger:integrity as t-1")

	_, err = run(t, rt, "jobs", "trigger", "unknown:task")
	require.Error(t, err)

	out, err = run(t, rt, "jobs", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "pending=2")
}

func TestJobsCLIRejectsUnknownTask(t *testing.T) {
	c := NewJobsCLI("127.0.0.1:0", 72)
	defer c.Close()
	_, err := c.Trigger(context.Background(), "mail:send")
	require.Error(t, err)
}
