package orchestrator

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/checkmate/internal/types"
)

// Budgeter keeps the manager prompt inside the model's context window by
// eliding the oldest session history when memory grows too large.
type Budgeter struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// NewBudgeter creates a budgeter for the given model. maxTokens is the
// model's context window; reserve is held back for the response.
func NewBudgeter(model string, maxTokens, reserve int) (*Budgeter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budgeter{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

func (b *Budgeter) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Fit trims a copy of memory until the rendered payload fits the input
// budget. Oldest timeline entries go first, then pastContents entries.
// The original memory is never mutated.
func (b *Budgeter) Fit(memory *types.SessionMemory, render func(*types.SessionMemory) (string, error)) (string, error) {
	budget := b.maxTokens - b.reserve

	payload, err := render(memory)
	if err != nil {
		return "", err
	}
	if b.countTokens(payload) <= budget {
		return payload, nil
	}

	trimmed := *memory
	trimmed.Timeline = append([]types.TimelineEntry(nil), memory.Timeline...)
	for len(trimmed.Timeline) > 1 {
		trimmed.Timeline = trimmed.Timeline[1:]
		payload, err = render(&trimmed)
		if err != nil {
			return "", err
		}
		if b.countTokens(payload) <= budget {
			return payload, nil
		}
	}

	trimmed.PastContents = map[string]types.ContentRecord{}
	payload, err = render(&trimmed)
	if err != nil {
		return "", err
	}
	if b.countTokens(payload) <= budget {
		return payload, nil
	}
	return "", fmt.Errorf("frame payload exceeds context budget after trimming")
}
