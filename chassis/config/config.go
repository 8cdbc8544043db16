package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Defaults applied when the config file leaves a knob unset.
const (
	DefaultBatchSize       = 10
	DefaultMaxAttempts     = 3
	DefaultTaskTimeoutSec  = 60
	DefaultPollSpec        = "@every 2m"
	DefaultRateMax         = 30
	DefaultRateWindowSec   = 60
	DefaultStaleTimeoutSec = 300
	DefaultRepairBatchSize = 50
	DefaultIntervalSec     = 5
	DefaultReviewer        = "human-review"
	DefaultAlertsPerMinute = 10
)

// AppConfig ...
type AppConfig struct {
	Storage struct {
		DSN string `yaml:"dsn"`
	}
	AWS struct {
		Region             string `yaml:"region"`
		CredentialsFile    string `yaml:"credentialsFile"`
		CredentialsProfile string `yaml:"credentialsProfile"`
	}
	Alerts struct {
		Queue struct {
			Name    string `yaml:"name"`
			URL     string `yaml:"url"`
			Retries int    `yaml:"readRetries"`
		}
		PerMinute int `yaml:"perMinute"`
	}
	Dispatcher struct {
		PollSpec           string `yaml:"pollSpec"`
		BatchSize          int    `yaml:"batchSize"`
		MaxAttempts        int    `yaml:"maxAttempts"`
		Concurrency        int    `yaml:"concurrency"`
		TaskTimeoutSeconds int    `yaml:"taskTimeoutSeconds"`
		Reviewer           string `yaml:"reviewer"`
		RateLimit          struct {
			Max           int `yaml:"max"`
			WindowSeconds int `yaml:"windowSeconds"`
		} `yaml:"rateLimit"`
		APIToken string `yaml:"apiToken"`
		Port     string `yaml:"port"`
		LogLevel string `yaml:"loglevel"`
	}
	Supervisor struct {
		StaleTimeoutSeconds int    `yaml:"staleTimeoutSeconds"`
		RepairBatchSize     int    `yaml:"repairBatchSize"`
		IntervalSeconds     int    `yaml:"intervalSeconds"`
		Port                string `yaml:"port"`
		LogLevel            string `yaml:"loglevel"`
	}
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Dispatcher.PollSpec == "" {
		cfg.Dispatcher.PollSpec = DefaultPollSpec
	}
	if cfg.Dispatcher.BatchSize <= 0 {
		cfg.Dispatcher.BatchSize = DefaultBatchSize
	}
	if cfg.Dispatcher.MaxAttempts <= 0 {
		cfg.Dispatcher.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dispatcher.Concurrency <= 0 {
		cfg.Dispatcher.Concurrency = cfg.Dispatcher.BatchSize
	}
	if cfg.Dispatcher.TaskTimeoutSeconds <= 0 {
		cfg.Dispatcher.TaskTimeoutSeconds = DefaultTaskTimeoutSec
	}
	if cfg.Dispatcher.Reviewer == "" {
		cfg.Dispatcher.Reviewer = DefaultReviewer
	}
	if cfg.Dispatcher.RateLimit.Max <= 0 {
		cfg.Dispatcher.RateLimit.Max = DefaultRateMax
	}
	if cfg.Dispatcher.RateLimit.WindowSeconds <= 0 {
		cfg.Dispatcher.RateLimit.WindowSeconds = DefaultRateWindowSec
	}
	if cfg.Dispatcher.Port == "" {
		cfg.Dispatcher.Port = ":2112"
	}
	if cfg.Supervisor.StaleTimeoutSeconds <= 0 {
		cfg.Supervisor.StaleTimeoutSeconds = DefaultStaleTimeoutSec
	}
	if cfg.Supervisor.RepairBatchSize <= 0 {
		cfg.Supervisor.RepairBatchSize = DefaultRepairBatchSize
	}
	if cfg.Supervisor.IntervalSeconds <= 0 {
		cfg.Supervisor.IntervalSeconds = DefaultIntervalSec
	}
	if cfg.Supervisor.Port == "" {
		cfg.Supervisor.Port = ":2113"
	}
	if cfg.Alerts.PerMinute <= 0 {
		cfg.Alerts.PerMinute = DefaultAlertsPerMinute
	}
}

// Read ...
func Read() (*AppConfig, error) {
	filename := os.Getenv("CFG_PATH")
	cfg := &AppConfig{}
	buff, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(buff, cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}
