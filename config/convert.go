package config

import (
	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/browser"
	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/fill"
	"github.com/hazyhaar/applyflow/governor"
	"github.com/hazyhaar/applyflow/llm"
	"github.com/hazyhaar/applyflow/mapper"
	"github.com/hazyhaar/applyflow/navigator"
)

func (c *Config) BrowserConfig(l *zap.Logger) browser.Config {
	b := c.Browser
	return browser.Config{
		RemoteURL:        b.Remote,
		Headful:          b.Headful,
		XvfbDisplay:      b.XvfbDisplay,
		MemoryLimit:      b.MemoryLimit,
		RecycleInterval:  b.RecycleInterval,
		ResourceBlocking: b.ResourceBlocking,
		NavigateTimeout:  b.NavigateTimeout,
		ScreenshotDir:    b.ScreenshotDir,
		Logger:           l,
	}
}

// NavigatorConfig leaves Journal, Notifier, Profiles and Ranker to the
// caller.
func (c *Config) NavigatorConfig() navigator.Config {
	return navigator.Config{
		ChangeWait:        c.Navigation.ChangeWait,
		PollInterval:      c.Navigation.PollInterval,
		MaxCTAAttempts:    c.CTA.MaxAttempts,
		MaxHops:           c.Navigation.MaxHops,
		MinCTAConfidence:  c.CTA.MinConfidence,
		ApplyVocabulary:   c.CTA.ApplyVocabulary,
		ExcludeVocabulary: c.CTA.Exclude,
	}
}

func (c *Config) FieldsConfig(l *zap.Logger) fields.Config {
	return fields.Config{
		ProximityDepth:  c.Fields.ProximityDepth,
		NearbyTextLimit: c.Fields.NearbyTextLimit,
		Logger:          l,
	}
}

func (c *Config) MapperConfig(l *zap.Logger) mapper.Config {
	m := c.Mapper
	return mapper.Config{
		SingleBatchMax:     m.SingleBatchMax,
		ChunkSize:          m.ChunkSize,
		MaxInputTokens:     m.MaxInputTokens,
		MalformedRetries:   m.MalformedRetries,
		FallbackConfidence: m.FallbackConfidence,
		DocumentExcerpt:    m.DocumentExcerpt,
		Synonyms:           m.Synonyms,
		Logger:             l,
	}
}

func (c *Config) FillConfig(l *zap.Logger) fill.Config {
	return fill.Config{
		ApplyThreshold:      c.Mapper.ApplyThreshold,
		AutoSubmitThreshold: c.Mapper.AutoSubmitThreshold,
		Logger:              l,
	}
}

// GovernorConfig leaves Breaker and Metrics to the caller.
func (c *Config) GovernorConfig(l *zap.Logger) governor.Config {
	g := c.Governor
	return governor.Config{
		MaxInFlight: g.MaxInFlight,
		RatePerSec:  g.RatePerSec,
		Burst:       g.Burst,
		MaxRetries:  g.MaxRetries,
		BaseBackoff: g.BaseBackoff,
		MaxBackoff:  g.MaxBackoff,
		CallTimeout: g.CallTimeout,
		Service:     "gemini",
		Logger:      l,
	}
}

func (c *Config) GeminiConfig(l *zap.Logger) llm.GeminiConfig {
	return llm.GeminiConfig{
		APIKey:      c.Gemini.APIKey,
		Model:       c.Gemini.Model,
		Temperature: c.Gemini.Temperature,
		Logger:      l,
	}
}
