package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/and161185/grouptalk/internal/config"
	"github.com/and161185/grouptalk/internal/migrate"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(
		migrateSub("up", "Apply all pending migrations", func(cmd *cobra.Command, r *migrate.Runner) error {
			applied, err := r.Up(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				cmd.Println("schema is up to date")
				return nil
			}
			for _, v := range applied {
				cmd.Printf("applied %05d\n", v)
			}
			return nil
		}),
		migrateSub("down", "Roll back the latest migration", func(cmd *cobra.Command, r *migrate.Runner) error {
			v, err := r.Down(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("rolled back %05d\n", v)
			return nil
		}),
		migrateSub("status", "List migrations and whether they are applied", func(cmd *cobra.Command, r *migrate.Runner) error {
			st, err := r.Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range st {
				state := "pending"
				if s.Applied {
					state = "applied " + s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				cmd.Printf("%05d  %-30s %s\n", s.Version, s.Path, state)
			}
			return nil
		}),
	)
	return cmd
}

func migrateSub(use, short string, run func(*cobra.Command, *migrate.Runner) error) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dsn = cfg.DatabaseDSN
			}
			if dsn == "" {
				return fmt.Errorf("no database: set GT_DATABASE_DSN or --dsn")
			}
			r, err := migrate.Open(dsn)
			if err != nil {
				return err
			}
			defer r.Close()
			return run(cmd, r)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (overrides GT_DATABASE_DSN)")
	return cmd
}
