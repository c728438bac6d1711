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
	"github.com/wacul/ptr"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5000"

	MemoryDataSource = "memory://"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"BANKLINK_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"BANKLINK_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"BANKLINK_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"BANKLINK_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"BANKLINK_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"BANKLINK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"BANKLINK_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"BANKLINK_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"BANKLINK_REDIS_SKIP_TLS_VERIFY"`
}

// BankConfig registers one remote ledger service.
type BankConfig struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	IFSCPrefix string `json:"ifsc_prefix"`
}

type AggregatorConfig struct {
	AccountsTimeoutSec     int `json:"accounts_timeout_sec" envconfig:"BANKLINK_AGGREGATOR_ACCOUNTS_TIMEOUT_SEC"`
	TransactionsTimeoutSec int `json:"transactions_timeout_sec" envconfig:"BANKLINK_AGGREGATOR_TRANSACTIONS_TIMEOUT_SEC"`
}

func (a AggregatorConfig) AccountsTimeout() time.Duration {
	return time.Duration(a.AccountsTimeoutSec) * time.Second
}

func (a AggregatorConfig) TransactionsTimeout() time.Duration {
	return time.Duration(a.TransactionsTimeoutSec) * time.Second
}

type TransferConfig struct {
	CallTimeoutSec      int `json:"call_timeout_sec" envconfig:"BANKLINK_TRANSFER_CALL_TIMEOUT_SEC"`
	PinMinLength        int `json:"pin_min_length" envconfig:"BANKLINK_TRANSFER_PIN_MIN_LENGTH"`
	PinMaxLength        int `json:"pin_max_length" envconfig:"BANKLINK_TRANSFER_PIN_MAX_LENGTH"`
	StalePendingMinutes int `json:"stale_pending_minutes" envconfig:"BANKLINK_TRANSFER_STALE_PENDING_MINUTES"`
	IdempotencyLockSec  int `json:"idempotency_lock_sec" envconfig:"BANKLINK_TRANSFER_IDEMPOTENCY_LOCK_SEC"`
}

func (t TransferConfig) CallTimeout() time.Duration {
	return time.Duration(t.CallTimeoutSec) * time.Second
}

func (t TransferConfig) StalePendingAfter() time.Duration {
	return time.Duration(t.StalePendingMinutes) * time.Minute
}

func (t TransferConfig) IdempotencyLockTTL() time.Duration {
	return time.Duration(t.IdempotencyLockSec) * time.Second
}

type BreakerConfig struct {
	Disabled            bool   `json:"disabled" envconfig:"BANKLINK_BREAKER_DISABLED"`
	ConsecutiveFailures uint32 `json:"consecutive_failures" envconfig:"BANKLINK_BREAKER_CONSECUTIVE_FAILURES"`
	OpenTimeoutSec      int    `json:"open_timeout_sec" envconfig:"BANKLINK_BREAKER_OPEN_TIMEOUT_SEC"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"BANKLINK_QUEUE_WEBHOOK_QUEUE"`
	MonitoringPort string `json:"monitoring_port" envconfig:"BANKLINK_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"BANKLINK_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"BANKLINK_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"BANKLINK_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"BANKLINK_SLACK_WEBHOOK_URL"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"BANKLINK_SLACK_TIMEOUT_SEC"`
}

const defaultSlackTimeout = 5 * time.Second

// Timeout bounds a single Slack post. Unset values fall back to five seconds.
func (s SlackWebhook) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return defaultSlackTimeout
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"BANKLINK_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"BANKLINK_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"BANKLINK_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Banks           []BankConfig     `json:"banks" ignored:"true"`
	Aggregator      AggregatorConfig `json:"aggregator"`
	Transfer        TransferConfig   `json:"transfer"`
	Breaker         BreakerConfig    `json:"breaker"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

// DefaultBanks mirrors the three ledger services of a local deployment.
func DefaultBanks() []BankConfig {
	return []BankConfig{
		{Code: "SBI", Name: "State Bank of India", URL: "http://localhost:5001", IFSCPrefix: "SBIN"},
		{Code: "HDFC", Name: "HDFC Bank", URL: "http://localhost:5002", IFSCPrefix: "HDFC"},
		{Code: "ICICI", Name: "ICICI Bank", URL: "http://localhost:5003", IFSCPrefix: "ICIC"},
	}
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
	err = envconfig.Process("banklink", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called banklink.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Banklink Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if len(cnf.Banks) == 0 {
		cnf.Banks = DefaultBanks()
		log.Println("Warning: No banks configured. Using the default SBI, HDFC and ICICI ledgers on localhost.")
	}
	if err := validateBanks(cnf.Banks); err != nil {
		return err
	}

	if cnf.Aggregator.AccountsTimeoutSec <= 0 {
		cnf.Aggregator.AccountsTimeoutSec = 10
	}
	if cnf.Aggregator.TransactionsTimeoutSec <= 0 {
		cnf.Aggregator.TransactionsTimeoutSec = 10
	}

	if cnf.Transfer.CallTimeoutSec <= 0 {
		cnf.Transfer.CallTimeoutSec = 5
	}
	if cnf.Transfer.PinMinLength <= 0 {
		cnf.Transfer.PinMinLength = 4
	}
	if cnf.Transfer.PinMaxLength <= 0 {
		cnf.Transfer.PinMaxLength = 6
	}
	if cnf.Transfer.PinMinLength > cnf.Transfer.PinMaxLength {
		return fmt.Errorf("pin_min_length %d is greater than pin_max_length %d", cnf.Transfer.PinMinLength, cnf.Transfer.PinMaxLength)
	}
	if cnf.Transfer.StalePendingMinutes <= 0 {
		cnf.Transfer.StalePendingMinutes = 15
	}
	if cnf.Transfer.IdempotencyLockSec <= 0 {
		cnf.Transfer.IdempotencyLockSec = 60
	}

	if cnf.Notification.Slack.TimeoutSec <= 0 {
		cnf.Notification.Slack.TimeoutSec = 5
	}

	if cnf.Breaker.ConsecutiveFailures == 0 {
		cnf.Breaker.ConsecutiveFailures = 5
	}
	if cnf.Breaker.OpenTimeoutSec <= 0 {
		cnf.Breaker.OpenTimeoutSec = 30
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "banklink_webhooks"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = ptr.Int(defaultBurst)
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = ptr.Float64(defaultRPS)
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		cnf.RateLimit.CleanupIntervalSec = ptr.Int(10800) // 3 hours
	}

	return nil
}

func validateBanks(banks []BankConfig) error {
	codes := make(map[string]struct{}, len(banks))
	prefixes := make(map[string]string, len(banks))
	for i := range banks {
		bank := &banks[i]
		bank.Code = strings.ToUpper(strings.TrimSpace(bank.Code))
		bank.IFSCPrefix = strings.ToUpper(strings.TrimSpace(bank.IFSCPrefix))
		bank.URL = strings.TrimRight(strings.TrimSpace(bank.URL), "/")
		if bank.Code == "" || bank.URL == "" || bank.IFSCPrefix == "" {
			return fmt.Errorf("bank %d: code, url and ifsc_prefix are required", i)
		}
		if bank.Name == "" {
			bank.Name = bank.Code
		}
		if _, dup := codes[bank.Code]; dup {
			return fmt.Errorf("bank code %s is configured more than once", bank.Code)
		}
		if other, dup := prefixes[bank.IFSCPrefix]; dup {
			return fmt.Errorf("ifsc prefix %s is shared by %s and %s", bank.IFSCPrefix, other, bank.Code)
		}
		codes[bank.Code] = struct{}{}
		prefixes[bank.IFSCPrefix] = bank.Code
	}
	return nil
}

// IsMemoryDataSource reports whether transfers are kept in process memory.
func (cnf *Configuration) IsMemoryDataSource() bool {
	return strings.HasPrefix(cnf.DataSource.Dns, MemoryDataSource)
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
