package orchestrator

import (
	"github.com/user/checkmate/internal/config"
	"github.com/user/checkmate/internal/types"
)

// applyStrictness drops claims the session's strictness gate rejects:
// confidence below the gate's floor, or sourcing that fails the tier rule.
// A claim's sourcing passes with at least one tier-A/B source, or, when
// tier C is allowed, with at least MinSources tier-C sources.
func applyStrictness(result *types.FactCheckResult, gate config.StrictnessGate) {
	kept := result.Claims[:0]
	for _, claim := range result.Claims {
		if claim.Confidence < gate.MinConfidence {
			continue
		}
		if !sourcingPasses(claim.Sources, gate) {
			continue
		}
		kept = append(kept, claim)
	}
	result.Claims = kept
}

func sourcingPasses(sources []types.SourceRef, gate config.StrictnessGate) bool {
	tierC := 0
	for _, s := range sources {
		switch s.Tier {
		case types.TierA, types.TierB:
			return true
		case types.TierC:
			tierC++
		}
	}
	return gate.AllowTierC && tierC >= gate.MinSources
}
