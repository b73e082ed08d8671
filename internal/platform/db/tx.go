package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

type hooksContextKey struct{}

type commitHooks struct {
	fns []func(context.Context)
}

// WithTx executes fn inside a transaction. When ctx already carries a transaction
// opened by an outer WithTx, fn joins it and commit is left to the outer call.
// Rows that must not change concurrently are locked explicitly by the repositories,
// so ReadCommitted is sufficient.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return fn(ctx, tx)
	}
	return runTx(ctx, func(ctx context.Context) (pgx.Tx, error) {
		return pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	}, fn)
}

func runTx(ctx context.Context, begin func(context.Context) (pgx.Tx, error), fn func(context.Context, pgx.Tx) error) error {
	tx, err := begin(ctx)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	hookCtx, runHooks := WithCommitHooks(ctx)
	if err := fn(context.WithValue(hookCtx, txContextKey{}, tx), tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	runHooks()
	return nil
}

// WithCommitHooks returns a context that collects AfterCommit callbacks and a function
// running them in registration order. When ctx already collects callbacks the returned
// function does nothing and the outermost owner runs them. Units of work that are not
// pgx transactions, such as in-memory repositories, use it to keep the same ordering.
func WithCommitHooks(ctx context.Context) (context.Context, func()) {
	if _, ok := ctx.Value(hooksContextKey{}).(*commitHooks); ok {
		return ctx, func() {}
	}
	hooks := &commitHooks{}
	return context.WithValue(ctx, hooksContextKey{}, hooks), func() {
		for _, fn := range hooks.fns {
			fn(ctx)
		}
		hooks.fns = nil
	}
}

// AfterCommit defers fn until the outermost transaction in ctx commits. Callbacks of a
// rolled back transaction never run. Outside a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if hooks, ok := ctx.Value(hooksContextKey{}).(*commitHooks); ok {
		hooks.fns = append(hooks.fns, fn)
		return
	}
	fn(ctx)
}

// Conn returns the transaction carried by ctx or falls back to the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return ok
}
