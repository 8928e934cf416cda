package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini completer.
type GeminiConfig struct {
	APIKey      string
	Model       string  // default "gemini-2.5-flash"
	Temperature float32 // default 0.1
	Logger      *zap.Logger
}

func (c *GeminiConfig) defaults() {
	if c.Model == "" {
		c.Model = "gemini-2.5-flash"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Gemini is a Completer backed by google.golang.org/genai.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGemini creates a Gemini completer.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: gemini: api key is required")
	}
	cfg.defaults()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: new client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

// Complete implements Completer. The response is requested as JSON.
func (g *Gemini) Complete(ctx context.Context, req Request) (Completion, error) {
	gc := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.cfg.Temperature),
		ResponseMIMEType: "application/json",
	}
	if req.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	system := req.System
	if req.SchemaHint != "" {
		system = strings.TrimSpace(system + "\n\nRespond with JSON matching:\n" + req.SchemaHint)
	}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, gc)
	if err != nil {
		if isThrottle(err) {
			return Completion{}, &ThrottledError{Cause: err}
		}
		return Completion{}, fmt.Errorf("llm: gemini: generate: %w", err)
	}

	out := Completion{Text: resp.Text(), Model: g.cfg.Model}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		out.Truncated = true
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	g.cfg.Logger.Debug("llm: gemini completion",
		zap.String("purpose", req.Purpose),
		zap.Int("input_tokens", out.InputTokens),
		zap.Int("output_tokens", out.OutputTokens),
		zap.Bool("truncated", out.Truncated))
	return out, nil
}

func isThrottle(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED") {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "rate limit")
}
