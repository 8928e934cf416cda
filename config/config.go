// Package config loads the applyflow YAML configuration. Every product-tuned
// threshold lives here; the package configs it converts to keep their own
// defaults, so a zero field in YAML always means "use the default".
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Browser    BrowserConfig    `yaml:"browser"`
	Navigation NavigationConfig `yaml:"navigation"`
	CTA        CTAConfig        `yaml:"cta"`
	Fields     FieldsConfig     `yaml:"fields"`
	Mapper     MapperConfig     `yaml:"mapper"`
	Governor   GovernorConfig   `yaml:"governor"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Batch      BatchConfig      `yaml:"batch"`
	Candidate  CandidateConfig  `yaml:"candidate"`
	Notify     NotifyConfig     `yaml:"notify"`
	Control    ControlConfig    `yaml:"control"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

type StorageConfig struct {
	// Database holds jobs, profiles and the journal.
	Database string `yaml:"database"`
	// JournalJSONL, when set, mirrors the journal to a JSONL file.
	JournalJSONL string `yaml:"journal_jsonl"`
}

type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headful          bool          `yaml:"headful"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	ScreenshotDir    string        `yaml:"screenshot_dir"`
}

type NavigationConfig struct {
	ChangeWait   time.Duration `yaml:"change_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxHops      int           `yaml:"max_hops"`
}

type CTAConfig struct {
	MinConfidence   float64  `yaml:"min_confidence"`
	MaxAttempts     int      `yaml:"max_attempts"`
	ApplyVocabulary []string `yaml:"apply_vocabulary"`
	Exclude         []string `yaml:"exclude"`
	// ModelRanking asks the model to annotate candidates before the
	// deterministic gate.
	ModelRanking bool `yaml:"model_ranking"`
}

type FieldsConfig struct {
	ProximityDepth  int `yaml:"proximity_depth"`
	NearbyTextLimit int `yaml:"nearby_text_limit"`
}

type MapperConfig struct {
	SingleBatchMax      int                 `yaml:"single_batch_max"`
	ChunkSize           int                 `yaml:"chunk_size"`
	MaxInputTokens      int                 `yaml:"max_input_tokens"`
	ApplyThreshold      float64             `yaml:"apply_threshold"`
	AutoSubmitThreshold float64             `yaml:"auto_submit_threshold"`
	FallbackConfidence  float64             `yaml:"fallback_confidence"`
	MalformedRetries    int                 `yaml:"malformed_retries"`
	DocumentExcerpt     int                 `yaml:"document_excerpt"`
	Synonyms            map[string][]string `yaml:"synonyms"`
}

type GovernorConfig struct {
	MaxInFlight int           `yaml:"max_in_flight"`
	RatePerSec  float64       `yaml:"rate_per_sec"`
	Burst       int           `yaml:"burst"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type GeminiConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

type BatchConfig struct {
	MaxJobs    int `yaml:"max_jobs"`
	FormPasses int `yaml:"form_passes"`
}

type CandidateConfig struct {
	Profile string `yaml:"profile"`
	Resume  string `yaml:"resume"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type ControlConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads path, applies defaults and APPLYFLOW_* environment overrides,
// then validates. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/applyflow.db"
	}
	if c.Navigation.ChangeWait <= 0 {
		c.Navigation.ChangeWait = 5 * time.Second
	}
	if c.Navigation.PollInterval <= 0 {
		c.Navigation.PollInterval = 250 * time.Millisecond
	}
	if c.Navigation.MaxHops <= 0 {
		c.Navigation.MaxHops = 8
	}
	if c.CTA.MinConfidence <= 0 {
		c.CTA.MinConfidence = 0.6
	}
	if c.CTA.MaxAttempts <= 0 {
		c.CTA.MaxAttempts = 3
	}
	if c.Fields.ProximityDepth <= 0 {
		c.Fields.ProximityDepth = 5
	}
	if c.Fields.NearbyTextLimit <= 0 {
		c.Fields.NearbyTextLimit = 200
	}
	if c.Mapper.SingleBatchMax <= 0 {
		c.Mapper.SingleBatchMax = 30
	}
	if c.Mapper.ChunkSize <= 0 {
		c.Mapper.ChunkSize = 20
	}
	if c.Mapper.MaxInputTokens <= 0 {
		c.Mapper.MaxInputTokens = 6000
	}
	if c.Mapper.ApplyThreshold <= 0 {
		c.Mapper.ApplyThreshold = 0.5
	}
	if c.Mapper.AutoSubmitThreshold <= 0 {
		c.Mapper.AutoSubmitThreshold = 0.8
	}
	if c.Mapper.FallbackConfidence <= 0 {
		c.Mapper.FallbackConfidence = 0.7
	}
	if c.Mapper.MalformedRetries == 0 {
		c.Mapper.MalformedRetries = 1
	}
	if c.Governor.MaxInFlight <= 0 {
		c.Governor.MaxInFlight = 4
	}
	if c.Governor.MaxRetries <= 0 {
		c.Governor.MaxRetries = 4
	}
	if c.Governor.BaseBackoff <= 0 {
		c.Governor.BaseBackoff = 500 * time.Millisecond
	}
	if c.Governor.CallTimeout <= 0 {
		c.Governor.CallTimeout = 60 * time.Second
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}
	if c.Batch.MaxJobs <= 0 {
		c.Batch.MaxJobs = 2
	}
	if c.Batch.FormPasses <= 0 {
		c.Batch.FormPasses = 2
	}
	if c.Control.Addr == "" {
		c.Control.Addr = "127.0.0.1:8090"
	}
}

// applyEnv overlays APPLYFLOW_* variables. Malformed numbers are ignored.
func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv("APPLYFLOW_" + key); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Logging.Level)
	str("DATABASE", &c.Storage.Database)
	str("JOURNAL_JSONL", &c.Storage.JournalJSONL)
	str("BROWSER_REMOTE", &c.Browser.Remote)
	str("SCREENSHOT_DIR", &c.Browser.ScreenshotDir)
	str("GEMINI_API_KEY", &c.Gemini.APIKey)
	str("GEMINI_MODEL", &c.Gemini.Model)
	str("CANDIDATE_PROFILE", &c.Candidate.Profile)
	str("CANDIDATE_RESUME", &c.Candidate.Resume)
	str("NOTIFY_WEBHOOK", &c.Notify.WebhookURL)
	str("CONTROL_ADDR", &c.Control.Addr)
	if v := getenv("APPLYFLOW_MAX_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Batch.MaxJobs = n
		}
	}
	if v := getenv("APPLYFLOW_HEADFUL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headful = b
		}
	}
}

// Validate rejects settings no component can honour.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"cta.min_confidence":           c.CTA.MinConfidence,
		"mapper.apply_threshold":       c.Mapper.ApplyThreshold,
		"mapper.auto_submit_threshold": c.Mapper.AutoSubmitThreshold,
		"mapper.fallback_confidence":   c.Mapper.FallbackConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be within [0,1], got %v", name, v)
		}
	}
	if c.Mapper.ApplyThreshold > c.Mapper.AutoSubmitThreshold {
		return fmt.Errorf("config: mapper.apply_threshold %v exceeds auto_submit_threshold %v",
			c.Mapper.ApplyThreshold, c.Mapper.AutoSubmitThreshold)
	}
	if c.Mapper.ChunkSize > c.Mapper.SingleBatchMax {
		return fmt.Errorf("config: mapper.chunk_size %d exceeds single_batch_max %d",
			c.Mapper.ChunkSize, c.Mapper.SingleBatchMax)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
