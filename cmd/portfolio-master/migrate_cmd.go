package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/portfolio-master/modules/portfolio"
	"github.com/iota-uz/portfolio-master/modules/portfolio/infrastructure/persistence"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the PostgreSQL schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.migrate(cmd, "migrate up", func(m *persistence.Migrator) (any, error) {
					return m.Up(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.migrate(cmd, "migrate status", func(m *persistence.Migrator) (any, error) {
					return m.Status(cmd.Context())
				})
			},
		},
	)
	return cmd
}

func (a *app) migrate(cmd *cobra.Command, name string, fn func(*persistence.Migrator) (any, error)) error {
	pool, err := portfolio.Connect(cmd.Context(), a.conf.Database.Opts)
	if err != nil {
		return err
	}
	defer pool.Close()

	m, err := persistence.NewMigrator(pool)
	if err != nil {
		return err
	}
	defer m.Close()

	start := time.Now()
	res, err := fn(m)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), name, start, res)
}
