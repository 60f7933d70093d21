package ensemble

import (
	"unicode/utf8"

	"llm-ensemble/internal/backend"
)

// selectOutcome picks the winner among usable outcomes. Ties keep the earliest outcome, so the result
// is deterministic for a fixed backend order. It reports false when nothing is usable.
func selectOutcome(outcomes []backend.Outcome, strategy Strategy) (backend.Outcome, bool) {
	var best backend.Outcome
	found := false
	for _, o := range outcomes {
		if !o.Usable() {
			continue
		}
		if !found {
			best, found = o, true
			continue
		}
		if better(o, best, strategy) {
			best = o
		}
	}
	return best, found
}

func better(candidate, best backend.Outcome, strategy Strategy) bool {
	switch strategy {
	case StrategySpeed:
		return candidate.Latency < best.Latency
	case StrategyConsensus:
		return utf8.RuneCountInString(candidate.Text) > utf8.RuneCountInString(best.Text)
	default:
		return candidate.QualityScore > best.QualityScore
	}
}
