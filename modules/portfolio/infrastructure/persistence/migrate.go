package persistence

import (
	"context"
	"io/fs"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/iota-uz/portfolio-master/migrations"
)

// Migrator applies the embedded schema migrations to a pool.
type Migrator struct {
	provider *goose.Provider
	close    func() error
}

func NewMigrator(pool *pgxpool.Pool) (*Migrator, error) {
	sub, err := fs.Sub(migrations.FS, migrations.Dir)
	if err != nil {
		return nil, gerrors.Wrap(err, "open migrations")
	}
	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		_ = db.Close()
		return nil, gerrors.Wrap(err, "create goose provider")
	}
	return &Migrator{provider: provider, close: db.Close}, nil
}

// Up applies every pending migration and returns the applied versions.
func (m *Migrator) Up(ctx context.Context) ([]int64, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return nil, gerrors.Wrap(err, "apply migrations")
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// MigrationStatus is one migration and whether it has been applied.
type MigrationStatus struct {
	Version int64  `json:"version"`
	Path    string `json:"path"`
	Applied bool   `json:"applied"`
}

func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, gerrors.Wrap(err, "read migration status")
	}
	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationStatus{
			Version: s.Source.Version,
			Path:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

func (m *Migrator) Close() error {
	return m.close()
}
