package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/checkmate/internal/capability"
	"github.com/user/checkmate/internal/config"
	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/types"
	"github.com/user/checkmate/pkg/llm"
)

// Checker verifies one frame's content through an agentic tool loop against
// the capability registry.
type Checker struct {
	provider  llm.Provider
	exec      *resilience.Executor
	registry  *capability.Registry
	blobs     types.BlobStore
	maxRounds int
	logger    *slog.Logger
}

func NewChecker(provider llm.Provider, exec *resilience.Executor, registry *capability.Registry, blobs types.BlobStore, maxRounds int, logger *slog.Logger) *Checker {
	return &Checker{
		provider:  provider,
		exec:      exec,
		registry:  registry,
		blobs:     blobs,
		maxRounds: maxRounds,
		logger:    logger,
	}
}

// Check runs the route's checker over the validated agent context. Claims
// come back already classified by source tier and filtered by the session's
// strictness gate.
func (c *Checker) Check(ctx context.Context, route types.MediaRoute, agentCtx *types.AgentContext, strictness float64) (*types.FactCheckResult, error) {
	system, ok := checkerSystemPrompts[route]
	if !ok {
		return nil, resilience.NewError(resilience.KindValidation, "llm:checker", fmt.Sprintf("no checker for route %q", route), nil)
	}
	tools := c.registry.AsLLMTools(routeTools[route])

	userTurn, err := c.renderContext(agentCtx)
	if err != nil {
		return nil, err
	}
	messages := []llm.Message{{Role: "user", Content: userTurn}}

	for round := 0; round < c.maxRounds; round++ {
		var resp *llm.Response
		err := c.exec.Do(ctx, "llm:checker", func(ctx context.Context) error {
			var callErr error
			resp, callErr = c.provider.Complete(ctx, system, messages, tools)
			if callErr != nil {
				return wrapProviderErr("llm:checker", callErr)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			result, err := parseCheckerReply(resp.Content)
			if err != nil {
				return nil, resilience.NewError(resilience.KindValidation, "llm:checker", "parse reply", err)
			}
			classifySources(result)
			applyStrictness(result, config.GateFor(strictness))
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		var results []llm.ToolResult
		for _, tc := range resp.ToolCalls {
			out, err := c.registry.Call(ctx, tc.Name, tc.Arguments)
			tr := llm.ToolResult{ToolCallID: tc.ID, Content: out}
			if err != nil {
				tr.Content = "tool error: " + err.Error()
				tr.IsError = true
				c.logger.Warn("checker tool failed",
					"tool", tc.Name,
					"route", route,
					"error", err)
			}
			results = append(results, tr)
		}
		messages = append(messages, llm.Message{ToolResults: results})
	}

	return nil, resilience.NewError(resilience.KindInternal, "llm:checker",
		fmt.Sprintf("no final verdict after %d tool rounds", c.maxRounds), nil)
}

// renderContext turns the agent context into the checker's user turn,
// resolving a blob ref to a fetchable URL for image routes.
func (c *Checker) renderContext(agentCtx *types.AgentContext) (string, error) {
	payload := map[string]any{"contextType": agentCtx.Kind}
	if agentCtx.OCRText != "" {
		payload["ocrText"] = agentCtx.OCRText
	}
	if len(agentCtx.Hints) > 0 {
		payload["hints"] = agentCtx.Hints
	}
	if agentCtx.TranscriptDelta != "" {
		payload["transcriptDelta"] = agentCtx.TranscriptDelta
	}
	if agentCtx.ImageRef != "" {
		url, err := c.blobs.URL(agentCtx.ImageRef)
		if err != nil {
			return "", resilience.NewError(resilience.KindNotFound, "llm:checker", "resolve image ref", err)
		}
		payload["imageUrl"] = url
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal checker context: %w", err)
	}
	return string(data), nil
}

// parseCheckerReply decodes a checker verdict leniently: if the content is
// not pure JSON, the outermost brace-delimited span is extracted first.
func parseCheckerReply(content string) (*types.FactCheckResult, error) {
	text := strings.TrimSpace(content)
	var result types.FactCheckResult
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return &result, nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in checker reply")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("decode checker reply: %w", err)
	}
	return &result, nil
}

// classifySources stamps each cited source with its domain tier.
func classifySources(result *types.FactCheckResult) {
	for i := range result.Claims {
		for j := range result.Claims[i].Sources {
			s := &result.Claims[i].Sources[j]
			s.Tier = config.TierForURL(s.URL)
		}
	}
	for i := range result.Sources {
		result.Sources[i].Tier = config.TierForURL(result.Sources[i].URL)
	}
}
