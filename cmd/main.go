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
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/payouts"
	"github.com/jerry-enebeli/payouts/config"
	"github.com/jerry-enebeli/payouts/database"
	"github.com/jerry-enebeli/payouts/internal/notification"
	redis_db "github.com/jerry-enebeli/payouts/internal/redis-db"
)

// Payouts represents the CLI application, encapsulating the root Cobra command.
type Payouts struct {
	cmd *cobra.Command
}

// payoutsInstance holds the runtime service and the resources it was built on
// so commands can close them on exit.
type payoutsInstance struct {
	payouts *payouts.Payouts
	cnf     *config.Configuration
	queue   *payouts.Queue
	redis   *redis_db.Redis
}

func (app *payoutsInstance) close() {
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			logrus.WithError(err).Warn("error closing queue client")
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logrus.WithError(err).Warn("error closing redis client")
		}
	}
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration from the --config file and builds the service
// before any command runs.
func preRun(app *payoutsInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		if err := setupPayouts(app, cnf); err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.cnf = cnf
		return nil
	}
}

// setupPayouts connects the datasource, the task queue and redis, then wires
// them into the service.
func setupPayouts(app *payoutsInstance, cfg *config.Configuration) error {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	queue, err := payouts.NewQueue(cfg)
	if err != nil {
		return fmt.Errorf("error creating queue: %v", err)
	}

	rdb, err := redis_db.NewRedisClient(cfg.Redis.Dns)
	if err != nil {
		_ = queue.Close()
		return fmt.Errorf("error connecting to redis: %v", err)
	}

	p, err := payouts.NewPayouts(db, payouts.WithQueue(queue), payouts.WithRedis(rdb.Client()))
	if err != nil {
		_ = queue.Close()
		_ = rdb.Close()
		return fmt.Errorf("error creating payouts service: %v", err)
	}

	app.payouts = p
	app.queue = queue
	app.redis = rdb
	return nil
}

// NewCLI creates the command-line interface with the server, workers,
// migrate and config subcommands.
func NewCLI() *Payouts {
	var configFile string
	app := &payoutsInstance{}

	var rootCmd = &cobra.Command{
		Use:   "payouts",
		Short: "Creator payout ledger",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payouts.json", "Configuration file for the payout ledger")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) { app.close() }

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Payouts{cmd: rootCmd}
}

func (w Payouts) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
