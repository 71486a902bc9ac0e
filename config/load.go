package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string                `yaml:"env"`
	Venue     VenueConfig           `yaml:"venue"`
	Stream    StreamConfig          `yaml:"stream"`
	Sync      SyncConfig            `yaml:"sync"`
	Analytics AnalyticsConfig       `yaml:"analytics"`
	Logging   LoggingConfig         `yaml:"logging"`
	Metrics   MetricsConfig         `yaml:"metrics"`
	Alerting  AlertingConfig        `yaml:"alerting"`
	Pairs     map[string]PairConfig `yaml:"pairs"`
}

type VenueConfig struct {
	APIKey     string `yaml:"apiKey"`
	APISecret  string `yaml:"apiSecret"`
	BaseURL    string `yaml:"baseURL"`
	WSEndpoint string `yaml:"wsEndpoint"`
}

type StreamConfig struct {
	MaxRetries     int `yaml:"maxRetries"`
	RetryBackoffMs int `yaml:"retryBackoffMs"`
	ReadTimeoutSec int `yaml:"readTimeoutSec"`
	BufferSize     int `yaml:"bufferSize"`
}

type SyncConfig struct {
	DedupCapacity        int `yaml:"dedupCapacity"`
	ReconcileIntervalSec int `yaml:"reconcileIntervalSec"`
}

// AnalyticsConfig 分析引擎阈值；支持热更新。
type AnalyticsConfig struct {
	MaxEvents                 int     `yaml:"maxEvents"`
	PatternDetectionThreshold float64 `yaml:"patternDetectionThreshold"`
	CorrelationThreshold      float64 `yaml:"correlationThreshold"`
	TimeToleranceMs           int     `yaml:"timeToleranceMs"`
	PriceTolerance            float64 `yaml:"priceTolerance"`
	VolumeTolerance           float64 `yaml:"volumeTolerance"`
	AccumulationMinFills      int     `yaml:"accumulationMinFills"`
	AccumulationWindowSec     int     `yaml:"accumulationWindowSec"`
	MomentumWindowSec         int     `yaml:"momentumWindowSec"`
	MomentumMinRate           float64 `yaml:"momentumMinRate"`
	IcebergMinFills           int     `yaml:"icebergMinFills"`
	IcebergPriceEpsilon       float64 `yaml:"icebergPriceEpsilon"`
}

type LoggingConfig struct {
	Level      string   `yaml:"level"`
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"outputFile"`
	ErrorFile  string   `yaml:"errorFile"`
	Format     string   `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AlertingConfig struct {
	Enabled            bool    `yaml:"enabled"`
	WebhookURL         string  `yaml:"webhookURL"`
	ThrottleSec        int     `yaml:"throttleSec"`
	PatternConfidence  float64 `yaml:"patternConfidence"`  // 达到该置信度的模式触发告警
	OverfillAlert      bool    `yaml:"overfillAlert"`      // 超额成交拒绝时告警
	UnknownStatusAlert bool    `yaml:"unknownStatusAlert"` // 未知状态词汇时告警
}

// PairConfig 保存交易对的精度/数量限制。
type PairConfig struct {
	TickSize    string `yaml:"tickSize"`
	StepSize    string `yaml:"stepSize"`
	MinVolume   string `yaml:"minVolume"`
	MaxVolume   string `yaml:"maxVolume"`
	MinNotional string `yaml:"minNotional"`
}

// ReconcileInterval 返回对账周期，零值回落到默认 30s。
func (s SyncConfig) ReconcileInterval() time.Duration {
	if s.ReconcileIntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.ReconcileIntervalSec) * time.Second
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("OT_VENUE_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("OT_VENUE_API_SECRET"); v != "" {
		cfg.Venue.APISecret = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Venue.BaseURL == "" {
		return errors.New("venue.baseURL is required")
	}
	if cfg.Venue.WSEndpoint == "" {
		return errors.New("venue.wsEndpoint is required")
	}
	if cfg.Venue.APIKey == "" || cfg.Venue.APISecret == "" {
		return errors.New("venue.apiKey/apiSecret is required (or env overrides)")
	}
	if cfg.Stream.MaxRetries < 0 {
		return errors.New("stream.maxRetries must be >= 0")
	}
	if cfg.Stream.BufferSize < 0 {
		return errors.New("stream.bufferSize must be >= 0")
	}
	if cfg.Sync.DedupCapacity < 0 {
		return errors.New("sync.dedupCapacity must be >= 0")
	}
	if err := validateAnalytics(cfg.Analytics); err != nil {
		return err
	}
	for pair, pc := range cfg.Pairs {
		if pc.TickSize == "" {
			return fmt.Errorf("pair %s tickSize is required", pair)
		}
		if pc.StepSize == "" {
			return fmt.Errorf("pair %s stepSize is required", pair)
		}
	}
	return nil
}

func validateAnalytics(a AnalyticsConfig) error {
	if a.MaxEvents < 0 {
		return errors.New("analytics.maxEvents must be >= 0")
	}
	if a.PatternDetectionThreshold < 0 || a.PatternDetectionThreshold > 1 {
		return fmt.Errorf("analytics.patternDetectionThreshold must be in [0,1], got %f", a.PatternDetectionThreshold)
	}
	if a.CorrelationThreshold < 0 || a.CorrelationThreshold > 1 {
		return fmt.Errorf("analytics.correlationThreshold must be in [0,1], got %f", a.CorrelationThreshold)
	}
	if a.PriceTolerance < 0 || a.VolumeTolerance < 0 {
		return errors.New("analytics tolerances must be >= 0")
	}
	if a.MomentumMinRate < 0 {
		return errors.New("analytics.momentumMinRate must be >= 0")
	}
	return nil
}
