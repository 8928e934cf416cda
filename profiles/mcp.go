package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the profile tools used by the offline review loop.
func (r *Registry) RegisterMCP(srv *mcp.Server) {
	r.registerMatchTool(srv)
	r.registerListTool(srv)
	r.registerPublishTool(srv)
	r.registerReportFailureTool(srv)
	r.registerReportsTool(srv)
	r.registerStatsTool(srv)
}

type endpoint func(ctx context.Context, raw json.RawMessage) (any, error)

// registerTool adapts an endpoint to an MCP tool: argument errors and
// endpoint errors become tool errors, results are returned as JSON text.
func registerTool(srv *mcp.Server, tool *mcp.Tool, fn endpoint) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := fn(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func decode[T any](raw json.RawMessage) (*T, error) {
	var v T
	if len(raw) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return &v, nil
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

// --- match ---

type matchRequest struct {
	URL string `json:"url"`
}

type matchResponse struct {
	Matched bool     `json:"matched"`
	Profile *Profile `json:"profile,omitempty"`
}

func (r *Registry) registerMatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "applyflow_profiles_match",
		Description: "Find the site profile applied to a job URL.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Job posting or application URL"},
		}, []string{"url"}),
	}
	registerTool(srv, tool, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[matchRequest](raw)
		if err != nil {
			return nil, err
		}
		p, err := r.Match(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		return matchResponse{Matched: p != nil, Profile: p}, nil
	})
}

// --- list ---

type listRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (r *Registry) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "applyflow_profiles_list",
		Description: "List site profiles ordered by success rate.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max results (default all)"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[listRequest](raw)
		if err != nil {
			return nil, err
		}
		return r.List(ctx, req.Limit)
	})
}

// --- publish ---

type publishRequest struct {
	Site            string              `json:"site"`
	URLPatterns     []string            `json:"url_patterns"`
	FramePatterns   []string            `json:"frame_patterns,omitempty"`
	ApplyVocabulary []string            `json:"apply_vocabulary,omitempty"`
	Synonyms        map[string][]string `json:"synonyms,omitempty"`
}

func (r *Registry) registerPublishTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "applyflow_profiles_publish",
		Description: "Create or replace the profile for a site. Counters of an existing profile are kept.",
		InputSchema: inputSchema(map[string]any{
			"site":             map[string]any{"type": "string", "description": "Site name (e.g. greenhouse)"},
			"url_patterns":     stringList,
			"frame_patterns":   stringList,
			"apply_vocabulary": stringList,
			"synonyms": map[string]any{
				"type":                 "object",
				"description":          "Semantic key to extra field phrases",
				"additionalProperties": stringList,
			},
		}, []string{"site", "url_patterns"}),
	}
	registerTool(srv, tool, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[publishRequest](raw)
		if err != nil {
			return nil, err
		}
		return r.Publish(ctx, &Profile{
			Site:            req.Site,
			URLPatterns:     req.URLPatterns,
			FramePatterns:   req.FramePatterns,
			ApplyVocabulary: req.ApplyVocabulary,
			Synonyms:        req.Synonyms,
			TrustLevel:      TrustCommunity,
		})
	})
}

// --- report_failure ---

func (r *Registry) registerReportFailureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "applyflow_profiles_report_failure",
		Description: "Report a failure attributable to a site profile. Lowers its success rate.",
		InputSchema: inputSchema(map[string]any{
			"profile_id": map[string]any{"type": "string"},
			"job_id":     map[string]any{"type": "string"},
			"kind":       map[string]any{"type": "string", "description": "Failure kind (e.g. selector-missing)"},
			"selector":   map[string]any{"type": "string"},
			"message":    map[string]any{"type": "string"},
		}, []string{"profile_id", "kind"}),
	}
	registerTool(srv, tool, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[FailureReport](raw)
		if err != nil {
			return nil, err
		}
		p, err := r.Get(ctx, req.ProfileID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("profile %q not found", req.ProfileID)
		}
		return r.ReportFailure(ctx, *req)
	})
}

// --- reports ---

type reportsRequest struct {
	ProfileID string `json:"profile_id"`
	Limit     int    `json:"limit,omitempty"`
}

func (r *Registry) registerReportsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "applyflow_profiles_reports",
		Description: "List recent failure reports for a profile, newest first.",
		InputSchema: inputSchema(map[string]any{
			"profile_id": map[string]any{"type": "string"},
			"limit":      map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, []string{"profile_id"}),
	}
	registerTool(srv, tool, func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := decode[reportsRequest](raw)
		if err != nil {
			return nil, err
		}
		return r.Reports(ctx, req.ProfileID, req.Limit)
	})
}

// --- stats ---

func (r *Registry) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "applyflow_profiles_stats",
		Description: "Profile and failure-report counts, plus sites whose success rate is degraded.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return r.Stats(ctx)
	})
}
