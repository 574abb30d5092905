package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configurable parameters for the ledger bridge daemon.
type Config struct {
	// Reply channel name every outbound payload is addressed to
	Channel string `yaml:"channel"`

	// Async task runner
	MaxConcurrentTasks int           `yaml:"maxConcurrentTasks"`
	TaskTimeout        time.Duration `yaml:"taskTimeout"`
	SDKCallsPerSecond  float64       `yaml:"sdkCallsPerSecond"`
	SDKBurst           int           `yaml:"sdkBurst"`

	// Submitted transaction ids remembered for AlreadyConsumed reporting
	ConsumedHistory int `yaml:"consumedHistory"`

	// NATS transport; empty URL falls back to logging replies
	NATSURL            string        `yaml:"natsURL"`
	NATSConnectTimeout time.Duration `yaml:"natsConnectTimeout"`
	ReplySubjectPrefix string        `yaml:"replySubjectPrefix"`
	InvokeSubject      string        `yaml:"invokeSubject"`

	// HTTP invoke, health and metrics endpoint
	HTTPAddr        string        `yaml:"httpAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// In-memory reference ledger
	NetworkPassphrase string `yaml:"networkPassphrase"`
	MinimumFee        int64  `yaml:"minimumFee"`
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Channel: "LedgerManager",

		MaxConcurrentTasks: 16,
		TaskTimeout:        0, // SDK calls run to completion
		SDKCallsPerSecond:  0,
		SDKBurst:           1,

		ConsumedHistory: 1024,

		NATSURL:            "",
		NATSConnectTimeout: 5 * time.Second,
		ReplySubjectPrefix: "ledgerbridge.reply",
		InvokeSubject:      "ledgerbridge.invoke",

		HTTPAddr:        ":8080",
		ShutdownTimeout: 10 * time.Second,

		NetworkPassphrase: "Ledger Bridge Memory Network",
		MinimumFee:        100, // quarks
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv returns a Config populated from environment variables,
// falling back to defaults for unset values.
func FromEnv() Config {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Channel == "":
		return fmt.Errorf("config: channel is required")
	case c.MaxConcurrentTasks < 0:
		return fmt.Errorf("config: maxConcurrentTasks must not be negative")
	case c.TaskTimeout < 0:
		return fmt.Errorf("config: taskTimeout must not be negative")
	case c.SDKCallsPerSecond < 0:
		return fmt.Errorf("config: sdkCallsPerSecond must not be negative")
	case c.MinimumFee < 0:
		return fmt.Errorf("config: minimumFee must not be negative")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LEDGER_BRIDGE_CHANNEL"); v != "" {
		cfg.Channel = v
	}
	if v := os.Getenv("MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TaskTimeout = d
		}
	}
	if v := os.Getenv("SDK_CALLS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SDKCallsPerSecond = f
		}
	}
	if v := os.Getenv("SDK_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SDKBurst = n
		}
	}
	if v := os.Getenv("CONSUMED_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConsumedHistory = n
		}
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("NATS_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NATSConnectTimeout = d
		}
	}
	if v := os.Getenv("REPLY_SUBJECT_PREFIX"); v != "" {
		cfg.ReplySubjectPrefix = v
	}
	if v := os.Getenv("INVOKE_SUBJECT"); v != "" {
		cfg.InvokeSubject = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("NETWORK_PASSPHRASE"); v != "" {
		cfg.NetworkPassphrase = v
	}
	if v := os.Getenv("MINIMUM_FEE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MinimumFee = n
		}
	}
}
