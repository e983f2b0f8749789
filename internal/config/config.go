// Package config loads service settings from defaults, an optional config
// file and KLEAR_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string
	Port           string
	LogLevel       string
	DatabasePath   string
	PricingBaseURL string

	ClientWorkflow WorkflowConfig
	TradeWorkflow  WorkflowConfig

	PollInterval time.Duration
	Broadcast    BackoffConfig

	Kafka  KafkaConfig
	Auth   AuthConfig
	Hedger string
}

type WorkflowConfig struct {
	StepTimeout time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

type BackoffConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Factor     float64
}

type KafkaConfig struct {
	Brokers     []string
	ClientID    string
	Group       string
	FxRateTopic string
	CreditTopic string
	HedgeTopic  string
}

// Enabled reports whether any broker is configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type AuthConfig struct {
	Enabled   bool
	Secret    string
	APIKey    string
	APISecret string
}

// Hedger modes
const (
	HedgerStub      = "stub"
	HedgerSimulated = "simulated"
	HedgerKafka     = "kafka"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.path", "klear-fx.db")
	v.SetDefault("pricing.base_url", "")

	v.SetDefault("client_workflow.step_timeout", 5*time.Second)
	v.SetDefault("client_workflow.max_attempts", 3)
	v.SetDefault("client_workflow.retry_delay", 100*time.Millisecond)
	v.SetDefault("trade_workflow.step_timeout", 10*time.Second)
	v.SetDefault("trade_workflow.max_attempts", 2)
	v.SetDefault("trade_workflow.retry_delay", 100*time.Millisecond)

	v.SetDefault("consumer.poll_interval", 100*time.Millisecond)
	v.SetDefault("broadcast.min_backoff", 100*time.Millisecond)
	v.SetDefault("broadcast.max_backoff", time.Second)
	v.SetDefault("broadcast.factor", 2.4)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "klear-fx")
	v.SetDefault("kafka.group", "klear-fx")
	v.SetDefault("kafka.fx_rate_topic", "fx-rate-events")
	v.SetDefault("kafka.credit_topic", "credit-check-events")
	v.SetDefault("kafka.hedge_topic", "hedge-requests")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.secret", "klear-secret-key")
	v.SetDefault("auth.api_key", "test-api-key")
	v.SetDefault("auth.api_secret", "test-api-secret")

	v.SetDefault("hedger.mode", HedgerStub)
}

// Load reads the configuration. An empty path looks for config.yaml in the
// working directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KLEAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Env:            v.GetString("env"),
		Port:           v.GetString("server.port"),
		LogLevel:       v.GetString("log.level"),
		DatabasePath:   v.GetString("database.path"),
		PricingBaseURL: v.GetString("pricing.base_url"),
		ClientWorkflow: WorkflowConfig{
			StepTimeout: v.GetDuration("client_workflow.step_timeout"),
			MaxAttempts: v.GetInt("client_workflow.max_attempts"),
			RetryDelay:  v.GetDuration("client_workflow.retry_delay"),
		},
		TradeWorkflow: WorkflowConfig{
			StepTimeout: v.GetDuration("trade_workflow.step_timeout"),
			MaxAttempts: v.GetInt("trade_workflow.max_attempts"),
			RetryDelay:  v.GetDuration("trade_workflow.retry_delay"),
		},
		PollInterval: v.GetDuration("consumer.poll_interval"),
		Broadcast: BackoffConfig{
			MinBackoff: v.GetDuration("broadcast.min_backoff"),
			MaxBackoff: v.GetDuration("broadcast.max_backoff"),
			Factor:     v.GetFloat64("broadcast.factor"),
		},
		Kafka: KafkaConfig{
			Brokers:     brokers(v.GetStringSlice("kafka.brokers")),
			ClientID:    v.GetString("kafka.client_id"),
			Group:       v.GetString("kafka.group"),
			FxRateTopic: v.GetString("kafka.fx_rate_topic"),
			CreditTopic: v.GetString("kafka.credit_topic"),
			HedgeTopic:  v.GetString("kafka.hedge_topic"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("auth.enabled"),
			Secret:    v.GetString("auth.secret"),
			APIKey:    v.GetString("auth.api_key"),
			APISecret: v.GetString("auth.api_secret"),
		},
		Hedger: v.GetString("hedger.mode"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// brokers splits comma separated entries, which is how lists arrive from the environment
func brokers(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, b := range strings.Split(entry, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Hedger {
	case HedgerStub, HedgerSimulated:
	case HedgerKafka:
		if !c.Kafka.Enabled() {
			return fmt.Errorf("hedger mode %q needs kafka.brokers", c.Hedger)
		}
	default:
		return fmt.Errorf("unknown hedger mode %q", c.Hedger)
	}
	if c.ClientWorkflow.MaxAttempts < 1 || c.TradeWorkflow.MaxAttempts < 1 {
		return fmt.Errorf("workflow max_attempts must be at least 1")
	}
	if c.Broadcast.Factor < 1 {
		return fmt.Errorf("broadcast.factor must be at least 1")
	}
	return nil
}
