package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateCallback(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.prefetch":           c.Queue.Prefetch,
		"queue.reconnect_interval": c.Queue.ReconnectInterval,
	}); err != nil {
		return err
	}
	if c.Queue.URL != "" {
		parsed, err := url.Parse(c.Queue.URL)
		if err != nil {
			return fmt.Errorf("queue.url: %w", err)
		}
		if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			return errors.New("queue.url must use the amqp or amqps scheme")
		}
	}
	return nil
}

func (c *Config) validateCallback() error {
	if err := ensurePositiveMap(map[string]int{
		"callback.request_timeout":    c.Callback.RequestTimeout,
		"callback.max_attempts":       c.Callback.MaxAttempts,
		"callback.initial_backoff_ms": c.Callback.InitialBackoffMs,
		"callback.max_backoff_ms":     c.Callback.MaxBackoffMs,
		"storage.request_timeout":     c.Storage.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Callback.MaxBackoffMs < c.Callback.InitialBackoffMs {
		return errors.New("callback.max_backoff_ms must be at least callback.initial_backoff_ms")
	}
	if c.Callback.URL != "" {
		parsed, err := url.Parse(c.Callback.URL)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("callback.url %q is not an absolute URL", c.Callback.URL)
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.batch_size":       c.Pipeline.BatchSize,
		"pipeline.sampling_rate":    c.Pipeline.SamplingRate,
		"pipeline.hop_length":       c.Pipeline.HopLength,
		"pipeline.save_every_epoch": c.Pipeline.SaveEveryEpoch,
	}); err != nil {
		return err
	}
	switch c.Pipeline.RVCVersion {
	case "v1", "v2":
	default:
		return fmt.Errorf("pipeline.rvc_version must be v1 or v2, got %q", c.Pipeline.RVCVersion)
	}
	if c.Pipeline.GPU < 0 {
		return errors.New("pipeline.gpu must not be negative")
	}
	if c.Pipeline.OvertrainingDetector && c.Pipeline.OvertrainingThreshold <= 0 {
		return errors.New("pipeline.overtraining_threshold must be positive when the detector is enabled")
	}
	if c.Pipeline.CustomPretrained {
		if strings.TrimSpace(c.Pipeline.GPretrained) == "" || strings.TrimSpace(c.Pipeline.DPretrained) == "" {
			return errors.New("pipeline.g_pretrained and pipeline.d_pretrained are required when custom_pretrained is enabled")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
