package orchestrator

import (
	"strings"

	"github.com/user/checkmate/internal/types"
)

const (
	escalateConfidence = 0.8
	escalateSeverity   = 0.7
)

// synthesize merges the checker's verdict into the manager's draft
// notifications. With no checker result (degraded frame) the drafts pass
// through with only the display preferences applied.
func synthesize(drafts []types.Notification, result *types.FactCheckResult, notify types.NotificationSettings) []types.Notification {
	out := append([]types.Notification(nil), drafts...)

	if result != nil {
		worst := worstClaim(result.Claims)
		if len(out) == 0 && worst != nil {
			out = append(out, notificationFor(worst))
		}
		for i := range out {
			if result.Summary != "" {
				if out[i].Details != "" {
					out[i].Details += "\n"
				}
				out[i].Details += result.Summary
			}
			out[i].Sources = append(out[i].Sources, mergedSources(result)...)
			if out[i].Color == types.ColorYellow && shouldEscalate(result.Claims) {
				out[i].Color = types.ColorRed
			}
		}
	}

	for i := range out {
		if !notify.Details {
			out[i].Details = ""
		}
		if !notify.Links {
			out[i].Sources = nil
		}
	}
	return out
}

// shouldEscalate reports whether any claim is a confidently false finding
// severe enough to override a cautious draft.
func shouldEscalate(claims []types.Claim) bool {
	for _, c := range claims {
		if c.Label == types.LabelFalse && c.Confidence >= escalateConfidence && c.Severity >= escalateSeverity {
			return true
		}
	}
	return false
}

// worstClaim picks the most alarming retained claim, or nil when nothing
// warrants telling the user.
func worstClaim(claims []types.Claim) *types.Claim {
	rank := map[types.ClaimLabel]int{
		types.LabelFalse:      3,
		types.LabelMisleading: 2,
		types.LabelContested:  1,
	}
	var worst *types.Claim
	for i := range claims {
		c := &claims[i]
		if rank[c.Label] == 0 {
			continue
		}
		if worst == nil || rank[c.Label] > rank[worst.Label] ||
			(rank[c.Label] == rank[worst.Label] && c.Severity > worst.Severity) {
			worst = c
		}
	}
	return worst
}

func notificationFor(claim *types.Claim) types.Notification {
	color := types.ColorYellow
	if claim.Label == types.LabelFalse {
		color = types.ColorRed
	}
	short := claim.Text
	if len(short) > 80 {
		short = short[:77] + "..."
	}
	return types.Notification{
		Color:        color,
		ShortText:    strings.TrimSpace(string(claim.Label) + ": " + short),
		Details:      claim.Text,
		Sources:      claim.Sources,
		Confidence:   claim.Confidence,
		Severity:     claim.Severity,
		ShouldNotify: true,
	}
}

// mergedSources deduplicates cited sources across the result and its claims.
func mergedSources(result *types.FactCheckResult) []types.SourceRef {
	seen := make(map[string]bool)
	var out []types.SourceRef
	add := func(refs []types.SourceRef) {
		for _, r := range refs {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			out = append(out, r)
		}
	}
	add(result.Sources)
	for _, c := range result.Claims {
		add(c.Sources)
	}
	return out
}
