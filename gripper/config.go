package gripper

import (
	"time"

	"github.com/pkg/errors"

	"github.com/robotiqur/robotiqur/protocol"
	"github.com/robotiqur/robotiqur/transport"
	"github.com/robotiqur/robotiqur/utils"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultTimeout            = 2 * time.Second
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultActivationAttempts = 50
	DefaultMotionPollInterval = 10 * time.Millisecond
	DefaultMotionAttempts     = 500
	DefaultSpeed              = 128
	DefaultForce              = 128
)

// Config describes how to reach a gripper and how long to wait for it.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	// Timeout bounds the dial and each write or read.
	Timeout time.Duration `json:"timeout,omitempty"`
	// PollInterval and ActivationAttempts bound the activation and reset status polls.
	PollInterval       time.Duration `json:"poll_interval,omitempty"`
	ActivationAttempts int           `json:"activation_attempts,omitempty"`
	// MotionPollInterval and MotionAttempts bound WaitForMotion.
	MotionPollInterval time.Duration `json:"motion_poll_interval,omitempty"`
	MotionAttempts     int           `json:"motion_attempts,omitempty"`
}

// WithDefaults returns a copy of cfg with zero fields replaced by their defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.Port == 0 {
		cfg.Port = protocol.DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ActivationAttempts == 0 {
		cfg.ActivationAttempts = DefaultActivationAttempts
	}
	if cfg.MotionPollInterval == 0 {
		cfg.MotionPollInterval = DefaultMotionPollInterval
	}
	if cfg.MotionAttempts == 0 {
		cfg.MotionAttempts = DefaultMotionAttempts
	}
	return cfg
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Host == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "host")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return utils.NewConfigValidationError(path, errors.Errorf("port %d out of range", cfg.Port))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"timeout", cfg.Timeout},
		{"poll_interval", cfg.PollInterval},
		{"motion_poll_interval", cfg.MotionPollInterval},
	} {
		if d.val < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("%s must not be negative", d.name))
		}
	}
	if cfg.ActivationAttempts < 0 || cfg.MotionAttempts < 0 {
		return utils.NewConfigValidationError(path, errors.New("attempt budgets must not be negative"))
	}
	return nil
}

// Transport returns the connection parameters.
func (cfg Config) Transport() transport.Config {
	return transport.Config{Host: cfg.Host, Port: cfg.Port, Timeout: cfg.Timeout}
}
