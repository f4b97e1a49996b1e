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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5001"
	DEFAULT_MONITORING_PORT = "5004"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL    bool   `json:"ssl" envconfig:"PAYOUTS_SERVER_SSL"`
	Domain string `json:"domain" envconfig:"PAYOUTS_SERVER_SSL_DOMAIN"`
	Email  string `json:"ssl_email" envconfig:"PAYOUTS_SERVER_SSL_EMAIL"`
	Port   string `json:"port" envconfig:"PAYOUTS_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYOUTS_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"PAYOUTS_REDIS_DNS"`
}

type QueueConfig struct {
	WebhookQueue         string `json:"webhook_queue" envconfig:"PAYOUTS_QUEUE_WEBHOOK"`
	ProviderWebhookQueue string `json:"provider_webhook_queue" envconfig:"PAYOUTS_QUEUE_PROVIDER_WEBHOOK"`
	LeaseExpiryQueue     string `json:"lease_expiry_queue" envconfig:"PAYOUTS_QUEUE_LEASE_EXPIRY"`
	Concurrency          int    `json:"concurrency" envconfig:"PAYOUTS_QUEUE_CONCURRENCY"`
	MonitoringPort       string `json:"monitoring_port" envconfig:"PAYOUTS_QUEUE_MONITORING_PORT"`
}

// GatewayConfig configures the transfer rail client and its retry policy.
type GatewayConfig struct {
	BaseURL           string `json:"base_url" envconfig:"PAYOUTS_GATEWAY_BASE_URL"`
	APIKey            string `json:"api_key" envconfig:"PAYOUTS_GATEWAY_API_KEY"`
	TimeoutSeconds    int    `json:"timeout_seconds" envconfig:"PAYOUTS_GATEWAY_TIMEOUT_SECONDS"`
	MaxRetries        int    `json:"max_retries" envconfig:"PAYOUTS_GATEWAY_MAX_RETRIES"`
	InitialBackoffMs  int    `json:"initial_backoff_ms" envconfig:"PAYOUTS_GATEWAY_INITIAL_BACKOFF_MS"`
	MaxBackoffSeconds int    `json:"max_backoff_seconds" envconfig:"PAYOUTS_GATEWAY_MAX_BACKOFF_SECONDS"`
	MaxElapsedSeconds int    `json:"max_elapsed_seconds" envconfig:"PAYOUTS_GATEWAY_MAX_ELAPSED_SECONDS"`
}

type DispatcherConfig struct {
	Workers               int `json:"workers" envconfig:"PAYOUTS_DISPATCHER_WORKERS"`
	BatchSize             int `json:"batch_size" envconfig:"PAYOUTS_DISPATCHER_BATCH_SIZE"`
	LeaseSeconds          int `json:"lease_seconds" envconfig:"PAYOUTS_DISPATCHER_LEASE_SECONDS"`
	PollIntervalSeconds   int `json:"poll_interval_seconds" envconfig:"PAYOUTS_DISPATCHER_POLL_INTERVAL_SECONDS"`
	ReaperIntervalSeconds int `json:"reaper_interval_seconds" envconfig:"PAYOUTS_DISPATCHER_REAPER_INTERVAL_SECONDS"`
	ReaperBatchSize       int `json:"reaper_batch_size" envconfig:"PAYOUTS_DISPATCHER_REAPER_BATCH_SIZE"`
	MaxAttempts           int `json:"max_attempts" envconfig:"PAYOUTS_DISPATCHER_MAX_ATTEMPTS"`
}

func (d DispatcherConfig) Lease() time.Duration {
	return time.Duration(d.LeaseSeconds) * time.Second
}

func (d DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

func (d DispatcherConfig) ReaperInterval() time.Duration {
	return time.Duration(d.ReaperIntervalSeconds) * time.Second
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYOUTS_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYOUTS_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYOUTS_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"PAYOUTS_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"PAYOUTS_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"PAYOUTS_PROJECT_NAME"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Gateway         GatewayConfig    `json:"gateway"`
	Dispatcher      DispatcherConfig `json:"dispatcher"`
	Currencies      []string         `json:"currencies" envconfig:"PAYOUTS_CURRENCIES"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"PAYOUTS_ENABLE_TELEMETRY"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("payouts", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payouts.json with your config ❌")
	}
	return c, nil
}

func defaultInt(v *int, def int, name string) {
	if *v <= 0 {
		*v = def
		log.Printf("Warning: %s not specified. Setting default value: %d", name, def)
	}
}

func defaultString(v *string, def string) {
	*v = strings.TrimSpace(*v)
	if *v == "" {
		*v = def
	}
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Payouts Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Gateway.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Gateway.BaseURL), "/")

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	defaultString(&cnf.Queue.WebhookQueue, "payout_webhooks")
	defaultString(&cnf.Queue.ProviderWebhookQueue, "provider_webhooks")
	defaultString(&cnf.Queue.LeaseExpiryQueue, "lease_expiry")
	defaultString(&cnf.Queue.MonitoringPort, DEFAULT_MONITORING_PORT)
	defaultInt(&cnf.Queue.Concurrency, 10, "queue concurrency")

	defaultInt(&cnf.Gateway.TimeoutSeconds, 30, "gateway timeout")
	defaultInt(&cnf.Gateway.MaxRetries, 4, "gateway max retries")
	defaultInt(&cnf.Gateway.InitialBackoffMs, 500, "gateway initial backoff")
	defaultInt(&cnf.Gateway.MaxBackoffSeconds, 10, "gateway max backoff")
	defaultInt(&cnf.Gateway.MaxElapsedSeconds, 60, "gateway max elapsed time")

	defaultInt(&cnf.Dispatcher.Workers, 4, "dispatcher workers")
	defaultInt(&cnf.Dispatcher.BatchSize, 10, "dispatcher batch size")
	defaultInt(&cnf.Dispatcher.LeaseSeconds, 300, "dispatcher lease")
	defaultInt(&cnf.Dispatcher.PollIntervalSeconds, 5, "dispatcher poll interval")
	defaultInt(&cnf.Dispatcher.ReaperIntervalSeconds, 30, "lease reaper interval")
	defaultInt(&cnf.Dispatcher.ReaperBatchSize, 100, "lease reaper batch size")
	defaultInt(&cnf.Dispatcher.MaxAttempts, 5, "dispatcher max attempts")

	// a lease shorter than a full retry cycle lets the reaper hand a payout
	// to a second worker while the first is still calling the rail
	worstCase := cnf.Gateway.MaxElapsedSeconds + cnf.Gateway.TimeoutSeconds
	if cnf.Dispatcher.LeaseSeconds <= worstCase {
		return fmt.Errorf("dispatcher lease (%ds) must exceed gateway max elapsed plus timeout (%ds)", cnf.Dispatcher.LeaseSeconds, worstCase)
	}

	if len(cnf.Currencies) == 0 {
		cnf.Currencies = []string{"NGN", "GHS", "KES", "ZAR", "USD", "GBP", "EUR"}
	}
	for i, c := range cnf.Currencies {
		cnf.Currencies[i] = strings.ToUpper(strings.TrimSpace(c))
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
