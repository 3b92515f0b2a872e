// Package migrate runs an ordered list of schema migration steps
// against a Postgres connection pool, tracking the last-applied
// version in a dedicated table. It is adapted from the teacher's
// internal/migrate runner (Migration{Table, Steps}.Run(log, db)) down
// to a single dialect: this engine only ships a Postgres adapter, so
// the teacher's sqlite/postgres placeholder-rebinding machinery has no
// second dialect to serve and is dropped (see DESIGN.md).
package migrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the class for every failure this package returns.
var Error = errs.Class("migrate")

// Queryer is the subset of *pgxpool.Pool a migration step needs. It is
// satisfied directly by *pgxpool.Pool, so callers never need an
// adapter shim.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var _ Queryer = (*pgxpool.Pool)(nil)

// Action is one migration step's effect.
type Action interface {
	Run(ctx context.Context, log *zap.Logger, db Queryer) error
}

// SQL runs a fixed list of statements in order, each as its own Exec.
type SQL []string

// Run implements Action.
func (stmts SQL) Run(ctx context.Context, log *zap.Logger, db Queryer) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// Func runs arbitrary Go code as a migration step, for changes that
// can't be expressed as a flat SQL statement list.
type Func func(ctx context.Context, log *zap.Logger, db Queryer) error

// Run implements Action.
func (fn Func) Run(ctx context.Context, log *zap.Logger, db Queryer) error {
	return fn(ctx, log, db)
}

// Step is one versioned unit of schema evolution.
type Step struct {
	Description string
	Version     int
	Action      Action
}

// Migration is an ordered list of Steps tracked in Table.
type Migration struct {
	Table string
	Steps []*Step
}

// Run applies every step whose Version exceeds the highest version
// recorded in m.Table, in ascending Version order, recording each
// step's version as it completes so a crash mid-run resumes cleanly.
func (m Migration) Run(ctx context.Context, log *zap.Logger, db Queryer) error {
	if err := m.ensureVersionTable(ctx, db); err != nil {
		return Error.Wrap(err)
	}

	current, err := m.currentVersion(ctx, db)
	if err != nil {
		return Error.Wrap(err)
	}

	for _, step := range m.Steps {
		if step.Version <= current {
			continue
		}
		log.Info("applying migration step",
			zap.Int("version", step.Version),
			zap.String("description", step.Description))

		if err := step.Action.Run(ctx, log, db); err != nil {
			return Error.New("step %d (%s): %w", step.Version, step.Description, err)
		}
		if err := m.recordVersion(ctx, db, step.Version); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (m Migration) ensureVersionTable(ctx context.Context, db Queryer) error {
	_, err := db.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL)`, m.Table))
	return err
}

func (m Migration) currentVersion(ctx context.Context, db Queryer) (int, error) {
	var version int
	err := db.QueryRow(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(version), 0) FROM %s`, m.Table)).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (m Migration) recordVersion(ctx context.Context, db Queryer, version int) error {
	_, err := db.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (version) VALUES ($1)`, m.Table), version)
	return err
}
