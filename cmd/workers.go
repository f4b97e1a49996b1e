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
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/jerry-enebeli/payouts"
	"github.com/jerry-enebeli/payouts/config"
	pg_listener "github.com/jerry-enebeli/payouts/internal/pg-listener"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeQueues weights outbound events and provider deliveries above
// lease expiry checks, which the reaper also covers.
func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.ProviderWebhookQueue: 4,
		cfg.Queue.WebhookQueue:         3,
		cfg.Queue.LeaseExpiryQueue:     1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	opt, err := payouts.RedisConnOpt(conf)
	if err != nil {
		return nil, err
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logrus.WithError(err).WithFields(logrus.Fields{
				"task":  task.Type(),
				"retry": retried,
				"max":   maxRetry,
			}).Warn("task failed")
		}),
	}), nil
}

func initializeTaskHandlers(p *payouts.Payouts, cfg *config.Configuration, mux *asynq.ServeMux) {
	mux.HandleFunc(cfg.Queue.WebhookQueue, payouts.ProcessWebhook)
	mux.HandleFunc(cfg.Queue.ProviderWebhookQueue, p.ProcessProviderWebhook)
	mux.HandleFunc(cfg.Queue.LeaseExpiryQueue, p.ProcessLeaseExpiry)
}

// startMonitoring serves the asynqmon UI under /monitoring.
func startMonitoring(conf *config.Configuration) error {
	opt, err := payouts.RedisConnOpt(conf)
	if err != nil {
		return err
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
	return nil
}

// startDispatcher runs the claim loop and the NOTIFY listener that wakes it
// whenever a payout becomes pending.
func startDispatcher(ctx context.Context, p *payouts.Payouts, conf *config.Configuration) (*payouts.Dispatcher, error) {
	dispatcher, err := payouts.NewDispatcher(p)
	if err != nil {
		return nil, err
	}

	listener := pg_listener.NewPendingListener(pg_listener.ListenerConfig{
		PgConnStr: conf.DataSource.Dns,
	}, dispatcher)
	go func() {
		if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("pending listener stopped; dispatcher falls back to polling")
		}
	}()

	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("dispatcher stopped")
		}
	}()
	return dispatcher, nil
}

// workerCommands defines the "workers" command: the asynq task server, the
// dispatcher that calls the rail, and the lease reaper.
func workerCommands(app *payoutsInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payout workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			conf := app.cnf

			shutdown, err := initializeObservability(ctx, conf, conf.ProjectName+" workers")
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			srv, err := initializeWorkerServer(conf, initializeQueues(conf))
			if err != nil {
				log.Fatal(err)
			}
			mux := asynq.NewServeMux()
			initializeTaskHandlers(app.payouts, conf, mux)

			if err := startMonitoring(conf); err != nil {
				log.Fatal(err)
			}

			reaper := payouts.NewLeaseReaper(app.payouts)
			reaper.Start(ctx)
			defer reaper.Stop()

			if _, err := startDispatcher(ctx, app.payouts, conf); err != nil {
				log.Printf("Dispatcher not started: %v", err)
			}

			if err := srv.Start(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
			<-ctx.Done()
			srv.Shutdown()
		},
	}

	return cmd
}
