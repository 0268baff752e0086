package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/types"
	"github.com/user/checkmate/pkg/llm"
)

// PromptBudget bounds the manager's rendered prompt. Production uses the
// tiktoken-backed Budgeter.
type PromptBudget interface {
	Fit(memory *types.SessionMemory, render func(*types.SessionMemory) (string, error)) (string, error)
}

// ManagerStep runs the per-frame manager call: memory update, media routing,
// end-session decision, and draft notifications.
type ManagerStep struct {
	provider llm.Provider
	exec     *resilience.Executor
	budget   PromptBudget
	logger   *slog.Logger
}

func NewManagerStep(provider llm.Provider, exec *resilience.Executor, budget PromptBudget, logger *slog.Logger) *ManagerStep {
	return &ManagerStep{
		provider: provider,
		exec:     exec,
		budget:   budget,
		logger:   logger,
	}
}

// Run invokes the manager model for one frame. A malformed reply is a hard
// failure: no partial memory update is committed.
func (s *ManagerStep) Run(ctx context.Context, memory *types.SessionMemory, frame *types.FrameBundle) (*types.ManagerReply, error) {
	payload, err := s.budget.Fit(memory, func(m *types.SessionMemory) (string, error) {
		return renderManagerPayload(m, frame)
	})
	if err != nil {
		return nil, resilience.NewError(resilience.KindValidation, "llm:manager", "build prompt", err)
	}

	var resp *llm.Response
	err = s.exec.Do(ctx, "llm:manager", func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.provider.Complete(ctx, managerSystemPrompt, []llm.Message{
			{Role: "user", Content: payload},
		}, nil)
		if callErr != nil {
			return wrapProviderErr("llm:manager", callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reply, err := parseManagerReply(resp.Content)
	if err != nil {
		s.logger.Error("manager reply unparseable",
			"session_id", frame.SessionID,
			"error", err)
		return nil, resilience.NewError(resilience.KindValidation, "llm:manager", "parse reply", err)
	}
	if err := ValidateRouting(reply); err != nil {
		return nil, err
	}

	s.logger.Debug("manager step complete",
		"session_id", frame.SessionID,
		"route", reply.Route,
		"end_session", reply.EndSession,
		"notifications", len(reply.Notifications),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return reply, nil
}

// renderManagerPayload serializes the manager's user turn. The shape is
// fixed: a MEMORY block followed by an INPUT block, both JSON.
func renderManagerPayload(memory *types.SessionMemory, frame *types.FrameBundle) (string, error) {
	memJSON, err := json.Marshal(memory)
	if err != nil {
		return "", fmt.Errorf("marshal memory: %w", err)
	}
	frameJSON, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("marshal frame: %w", err)
	}
	return "MEMORY:\n" + string(memJSON) + "\n\nINPUT:\n" + string(frameJSON), nil
}

// parseManagerReply decodes the manager's structured reply. Markdown fences
// are tolerated; anything else non-JSON is a hard failure.
func parseManagerReply(content string) (*types.ManagerReply, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply types.ManagerReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("decode manager reply: %w", err)
	}
	if reply.UpdatedMemory == nil {
		return nil, fmt.Errorf("manager reply missing updatedMemory")
	}
	return &reply, nil
}

func wrapProviderErr(op string, err error) error {
	var se *llm.StatusError
	if errors.As(err, &se) {
		return resilience.FromHTTPStatus(se.StatusCode, op, se.Body)
	}
	return resilience.NewError(resilience.KindNetwork, op, "model call failed", err)
}
