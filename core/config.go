package core

import (
	"fmt"
	"strings"
	"time"
)

type FanOutConfig struct {
	Concurrency    int           `koanf:"concurrency" mapstructure:"concurrency"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type SigningWaitConfig struct {
	TTL            time.Duration `koanf:"ttl" mapstructure:"ttl"`
	SweepBatchSize int           `koanf:"sweep_batch_size" mapstructure:"sweep_batch_size"`
}

type CallbackConfig struct {
	ClaimLease  time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	FanOut      FanOutConfig      `koanf:"fan_out" mapstructure:"fan_out"`
	Wait        SigningWaitConfig `koanf:"wait" mapstructure:"wait"`
	Callback    CallbackConfig    `koanf:"callback" mapstructure:"callback"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "signing",
		FanOut: FanOutConfig{
			Concurrency:    4,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Wait: SigningWaitConfig{
			TTL:            72 * time.Hour,
			SweepBatchSize: 50,
		},
		Callback: CallbackConfig{
			ClaimLease:  30 * time.Second,
			MaxAttempts: 8,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.FanOut.Concurrency < 0 {
		return fmt.Errorf("core: fan_out.concurrency must not be negative")
	}
	if c.FanOut.MaxAttempts < 0 {
		return fmt.Errorf("core: fan_out.max_attempts must not be negative")
	}
	if c.Wait.TTL < 0 {
		return fmt.Errorf("core: wait.ttl must not be negative")
	}
	return nil
}
