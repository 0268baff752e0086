package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/checkmate/internal/config"
	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/types"
)

const maxClaimConfidence = 0.95

var tierWeights = map[types.SourceTier]float64{
	types.TierA: 3,
	types.TierB: 2,
	types.TierC: 1,
}

// ClaimCheck verifies a single claim by running several query shapes through
// web search and scoring the consensus of the returned sources, weighted by
// source tier.
type ClaimCheck struct {
	search *WebSearch
}

// NewClaimCheck creates a new claim verification capability.
func NewClaimCheck(search *WebSearch) *ClaimCheck {
	return &ClaimCheck{search: search}
}

func (c *ClaimCheck) Name() string { return "check_claim" }
func (c *ClaimCheck) Description() string {
	return "Verify a factual claim against web sources and return a consensus verdict"
}
func (c *ClaimCheck) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"claim": {"type": "string", "description": "The claim to verify, stated as a declarative sentence"}
		},
		"required": ["claim"]
	}`)
}

type claimSource struct {
	Title  string           `json:"title"`
	URL    string           `json:"url"`
	Tier   types.SourceTier `json:"tier"`
	Stance string           `json:"stance"`
}

type claimVerdict struct {
	Verdict    string        `json:"verdict"`
	Confidence float64       `json:"confidence"`
	Sources    []claimSource `json:"sources"`
}

func (c *ClaimCheck) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Claim string `json:"claim"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", resilience.NewError(resilience.KindValidation, "tool:check_claim", "parse args", err)
	}
	if params.Claim == "" {
		return "", resilience.NewError(resilience.KindValidation, "tool:check_claim", "claim is required", nil)
	}

	queries := []string{
		params.Claim + " fact check",
		`"` + params.Claim + `"`,
		"is it true that " + params.Claim,
	}

	seen := make(map[string]bool)
	var sources []claimSource
	var lastErr error
	for _, q := range queries {
		results, err := c.search.Search(ctx, q, 5)
		if err != nil {
			lastErr = err
			continue
		}
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			sources = append(sources, claimSource{
				Title:  r.Title,
				URL:    r.URL,
				Tier:   config.TierForURL(r.URL),
				Stance: stanceOf(r.Title + " " + r.Snippet),
			})
		}
	}
	if len(sources) == 0 {
		if lastErr != nil {
			return "", lastErr
		}
		out, _ := json.Marshal(claimVerdict{Verdict: "uncertain", Confidence: 0})
		return string(out), nil
	}

	verdict := scoreConsensus(sources)
	out, err := json.Marshal(verdict)
	if err != nil {
		return "", fmt.Errorf("marshal verdict: %w", err)
	}
	return string(out), nil
}

var refutingTerms = []string{
	"false", "debunk", "misleading", "hoax", "no evidence", "myth", "fake", "not true",
}

var supportingTerms = []string{
	"confirm", "true", "accurate", "verified", "correct", "evidence shows",
}

func stanceOf(text string) string {
	lower := strings.ToLower(text)
	for _, term := range refutingTerms {
		if strings.Contains(lower, term) {
			return "refuting"
		}
	}
	for _, term := range supportingTerms {
		if strings.Contains(lower, term) {
			return "supporting"
		}
	}
	return "neutral"
}

// scoreConsensus weighs stances by source tier (A=3, B=2, C=1). Confidence
// is the dominant stance's share of the decided weight, capped below 1 so a
// single source can never be conclusive.
func scoreConsensus(sources []claimSource) claimVerdict {
	var supporting, refuting float64
	for _, s := range sources {
		w := tierWeights[s.Tier]
		switch s.Stance {
		case "supporting":
			supporting += w
		case "refuting":
			refuting += w
		}
	}

	decided := supporting + refuting
	v := claimVerdict{Sources: sources}
	if decided == 0 {
		v.Verdict = "uncertain"
		return v
	}

	switch {
	case refuting > supporting*2:
		v.Verdict = "false"
		v.Confidence = refuting / decided
	case supporting > refuting*2:
		v.Verdict = "supported"
		v.Confidence = supporting / decided
	default:
		v.Verdict = "contested"
		v.Confidence = maxFloat(supporting, refuting) / decided
	}
	if v.Confidence > maxClaimConfidence {
		v.Confidence = maxClaimConfidence
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
