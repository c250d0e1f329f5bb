// Package migrate applies the embedded goose migrations to PostgreSQL.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/grouptalk/migrations"
)

// Runner owns a database handle and a goose provider over the embedded files.
type Runner struct {
	db       *sql.DB
	provider *goose.Provider
}

// Status describes one migration file.
type Status struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Open connects to dsn through the pgx stdlib driver.
func Open(dsn string) (*Runner, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return &Runner{db: db, provider: p}, nil
}

// Close releases the database handle.
func (r *Runner) Close() error { return r.db.Close() }

// Up applies every pending migration and returns the versions applied.
func (r *Runner) Up(ctx context.Context) ([]int64, error) {
	res, err := r.provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	applied := make([]int64, 0, len(res))
	for _, m := range res {
		applied = append(applied, m.Source.Version)
	}
	return applied, nil
}

// Down rolls back the most recent migration and returns its version.
func (r *Runner) Down(ctx context.Context) (int64, error) {
	res, err := r.provider.Down(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate down: %w", err)
	}
	return res.Source.Version, nil
}

// Status lists every known migration in version order.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	st, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate status: %w", err)
	}
	out := make([]Status, 0, len(st))
	for _, s := range st {
		out = append(out, Status{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// Up is a shortcut for Open, Runner.Up and Close used at server startup.
func Up(ctx context.Context, dsn string) error {
	r, err := Open(dsn)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = r.Up(ctx)
	return err
}
