/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
/*
Package main provides the CLI commands for managing database migrations.
This includes commands for applying and rolling back migrations.
*/

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/payouts"
	"github.com/jerry-enebeli/payouts/config"
	"github.com/jerry-enebeli/payouts/database"
	redlock "github.com/jerry-enebeli/payouts/internal/lock"
	"github.com/jerry-enebeli/payouts/model"
)

const (
	migrationSchema  = "payouts"
	migrationLockKey = "payouts:migrate"
)

// lockMigrations serializes migration runs across instances started at the
// same time. Without redis it returns a no-op release.
func lockMigrations(ctx context.Context, app *payoutsInstance) (func(), error) {
	if app == nil || app.redis == nil {
		return func() {}, nil
	}
	locker := redlock.NewLocker(app.redis.Client(), migrationLockKey, model.GenerateUUIDWithSuffix("migrate"))
	if err := locker.WaitLock(ctx, 10*time.Minute, 2*time.Minute); err != nil {
		return nil, fmt.Errorf("error acquiring migration lock: %w", err)
	}
	return func() {
		if err := locker.Unlock(context.Background()); err != nil {
			log.Printf("Error releasing migration lock: %v", err)
		}
	}, nil
}

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: payouts.SQLFiles,
		Root:       "sql",
	}
}

// openMigrationDB connects with the configured DSN and points sql-migrate at
// the payouts schema for its bookkeeping table.
func openMigrationDB() (*sql.DB, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, fmt.Errorf("error fetching config: %w", err)
	}

	db, err := database.ConnectDB(cnf.DataSource.Dns)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + migrationSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}
	migrate.SetSchema(migrationSchema)
	return db, nil
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(app *payoutsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run payout ledger migrations",
	}

	cmd.AddCommand(migrateUpCommands(app))
	cmd.AddCommand(migrateDownCommands(app))

	return cmd
}

func migrateUpCommands(app *payoutsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			release, err := lockMigrations(cmd.Context(), app)
			if err != nil {
				log.Print(err)
				return
			}
			defer release()

			db, err := openMigrationDB()
			if err != nil {
				log.Print(err)
				return
			}
			defer db.Close()

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Up)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
			} else {
				fmt.Printf("Applied %d migrations!\n", n)
			}
		},
	}

	return cmd
}

func migrateDownCommands(app *payoutsInstance) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			release, err := lockMigrations(cmd.Context(), app)
			if err != nil {
				log.Print(err)
				return
			}
			defer release()

			db, err := openMigrationDB()
			if err != nil {
				log.Print(err)
				return
			}
			defer db.Close()

			n, err := migrate.ExecMax(db, "postgres", migrationSource(), migrate.Down, steps)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back, 0 for all")

	return cmd
}
