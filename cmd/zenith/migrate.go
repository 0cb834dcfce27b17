// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/zenithweb/zenith/internal/config"
	"github.com/zenithweb/zenith/internal/kv"
)

// migratorIface abstracts kv.Migrator so subcommands can be tested without
// a database.
type migratorIface interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
}

// newMigrator is swapped out in tests.
var newMigrator = func(databaseURL string) (migratorIface, error) {
	return kv.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back, or inspect the PostgreSQL schema migrations.`,
	}

	cmd.PersistentFlags().String("database.url", "", "PostgreSQL DSN")

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateVersionCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

// openMigrator resolves the database URL from config/env/flags and opens a
// migrator against it.
func openMigrator(cmd *cobra.Command) (migratorIface, error) {
	configPath, _ := cmd.Flags().GetString("config") //nolint:errcheck // flag is registered on the root command
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			Errorf("database.url is required (flag, config file, or ZENITH_DATABASE_URL)")
	}
	return newMigrator(cfg.Database.URL)
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(cmd, m)

			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations applied")
			return nil
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Long:  `Roll back all migrations. This drops the key-value tables and their data.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(cmd, m)

			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Migrations rolled back")
			return nil
		},
	}
}

func newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(cmd, m)

			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if version == 0 {
				cmd.Println("No migrations applied")
				return nil
			}
			if dirty {
				cmd.Printf("Version: %d (dirty)\n", version)
				return nil
			}
			cmd.Printf("Version: %d\n", version)
			return nil
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version without running migrations",
		Long: `Force the recorded migration version. Use only to recover from a
dirty state after fixing the database by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").
					With("arg", args[0]).
					Errorf("version must be an integer")
			}

			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeMigrator(cmd, m)

			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Forced version to %d\n", version)
			return nil
		},
	}
}

func closeMigrator(cmd *cobra.Command, m migratorIface) {
	if err := m.Close(); err != nil {
		cmd.PrintErrf("warning: failed to close migrator: %v\n", err)
	}
}
