package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/browser"
	"github.com/hazyhaar/applyflow/candidate"
	"github.com/hazyhaar/applyflow/config"
	"github.com/hazyhaar/applyflow/cta"
	"github.com/hazyhaar/applyflow/dbopen"
	"github.com/hazyhaar/applyflow/governor"
	"github.com/hazyhaar/applyflow/jobs"
	"github.com/hazyhaar/applyflow/journal"
	"github.com/hazyhaar/applyflow/llm"
	"github.com/hazyhaar/applyflow/mapper"
	"github.com/hazyhaar/applyflow/notify"
	"github.com/hazyhaar/applyflow/pipeline"
	"github.com/hazyhaar/applyflow/profiles"
)

var errNoModel = errors.New("no model configured")

// app holds the long-lived pieces every command shares.
type app struct {
	log *zap.Logger
	db  *sql.DB

	journal  *journal.Journal
	store    *journal.SQLite
	jobs     *jobs.Store
	profiles *profiles.Registry

	registry *prometheus.Registry
	controls *pipeline.Controls
	metrics  *pipeline.Metrics
	model    llm.Completer
}

func openApp(ctx context.Context, c *config.Config, log *zap.Logger) (*app, error) {
	db, err := dbopen.Open(c.Storage.Database, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{log: log, db: db, registry: prometheus.NewRegistry(), controls: pipeline.NewControls()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = pipeline.NewMetrics(a.registry)

	if a.store, err = journal.NewSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	sinks := []journal.Sink{a.store}
	if c.Storage.JournalJSONL != "" {
		jl, err := journal.OpenJSONL(c.Storage.JournalJSONL)
		if err != nil {
			db.Close()
			return nil, err
		}
		sinks = append(sinks, jl)
	}
	a.journal = journal.New(journal.Config{Logger: log}, sinks...)

	if a.jobs, err = jobs.NewStore(ctx, db); err != nil {
		a.close()
		return nil, err
	}
	if a.profiles, err = profiles.New(ctx, db, profiles.Config{Logger: log}); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// completer returns the governed model, creating it on first use. Without
// an API key every call fails and the mapper falls back to its rules.
func (a *app) completer(ctx context.Context, c *config.Config) (llm.Completer, error) {
	if a.model != nil {
		return a.model, nil
	}
	var next llm.Completer
	if c.Gemini.APIKey == "" {
		a.log.Warn("applyflow: no gemini api key, mapping with rules only")
		next = llm.CompleterFunc(func(context.Context, llm.Request) (llm.Completion, error) {
			return llm.Completion{}, errNoModel
		})
	} else {
		g, err := llm.NewGemini(ctx, c.GeminiConfig(a.log))
		if err != nil {
			return nil, err
		}
		next = g
	}
	gc := c.GovernorConfig(a.log)
	gc.Breaker = governor.NewBreaker()
	gc.Metrics = governor.NewMetrics(a.registry)
	a.model = governor.New(next, gc)
	return a.model, nil
}

// pipeline builds a Pipeline from c. Rebuilding with a reloaded config
// keeps the shared governor, controls and metrics.
func (a *app) pipeline(ctx context.Context, c *config.Config, bm *browser.Manager) (*pipeline.Pipeline, error) {
	model, err := a.completer(ctx, c)
	if err != nil {
		return nil, err
	}

	surface, doc, err := a.candidate(c)
	if err != nil {
		return nil, err
	}

	notifier := notify.Multi{notify.NewLog(a.log)}
	if c.Notify.WebhookURL != "" {
		notifier = append(notifier, notify.NewWebhook(c.Notify.WebhookURL, notify.WithWebhookLogger(a.log)))
	}

	nav := c.NavigatorConfig()
	if c.CTA.ModelRanking {
		nav.Ranker = &cta.ModelRanker{Completer: model, Logger: a.log}
	}

	return pipeline.New(pipeline.Config{
		Sessions:   pipeline.BrowserSessions{Manager: bm},
		Mapper:     mapper.New(model, c.MapperConfig(a.log)),
		Navigation: nav,
		Fields:     c.FieldsConfig(a.log),
		Fill:       c.FillConfig(a.log),
		Candidate:  surface,
		Document:   doc,
		Profiles:   a.profiles,
		Journal:    a.journal,
		Notifier:   notifier,
		Jobs:       a.jobs,
		Controls:   a.controls,
		Metrics:    a.metrics,
		FormPasses: c.Batch.FormPasses,
		Logger:     a.log,
	})
}

// candidate loads the configured profile surface and résumé document.
func (a *app) candidate(c *config.Config) (*candidate.Surface, *candidate.Document, error) {
	var surface *candidate.Surface
	if c.Candidate.Profile != "" {
		prof, err := candidate.Load(c.Candidate.Profile)
		if err != nil {
			return nil, nil, err
		}
		surface = prof.Surface()
	} else {
		a.log.Warn("applyflow: no candidate profile configured")
	}
	var doc *candidate.Document
	if c.Candidate.Resume != "" {
		var err error
		if doc, err = candidate.LoadDocument(c.Candidate.Resume); err != nil {
			return nil, nil, err
		}
	}
	return surface, doc, nil
}

// startBrowser launches the shared Chrome.
func startBrowser(ctx context.Context, c *config.Config, log *zap.Logger) (*browser.Manager, error) {
	bm := browser.NewManager(c.BrowserConfig(log))
	if err := bm.Start(ctx); err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return bm, nil
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("applyflow: close journal", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("applyflow: close database", zap.Error(err))
	}
}
