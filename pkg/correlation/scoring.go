package correlation

import (
	"strings"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// ScoringConfig tunes how fired groups are scored.
type ScoringConfig struct {
	// DiversityBonus is added to confidence for every source kind beyond the
	// first; confidence is capped at 1.
	DiversityBonus float64
	// CausalPairs lists known producer-to-consumer orderings. A group where
	// an event of the first kind precedes one of the second earns the causal
	// bonus.
	CausalPairs [][2]domain.SourceKind
	// SemanticFields are the payload fields mined for keyword agreement.
	SemanticFields []string
}

// DefaultScoringConfig returns the ordering and keyword model used in
// production: interactions cause structure and focus changes, focus changes
// are then spoken about.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		DiversityBonus: 0.1,
		CausalPairs: [][2]domain.SourceKind{
			{domain.SourceInteraction, domain.SourceStructure},
			{domain.SourceInteraction, domain.SourceFocus},
			{domain.SourceFocus, domain.SourceAudio},
		},
		SemanticFields: []string{"text", "app", "title", "target", "key", "type"},
	}
}

// Score is the strength/confidence outcome for one group of events.
type Score struct {
	Strength   float64
	Confidence float64
	Type       domain.CorrelationType
	TimeSpan   int64
}

// scoreGroup computes strength as the average of the component scores that
// apply: temporal overlap always, the causal-order bonus and the semantic
// match only when they actually hold. Confidence rewards source-kind
// diversity on top of strength, capped at 1.
func scoreGroup(cfg ScoringConfig, events []domain.TimestampedEvent, window int64) Score {
	if len(events) == 0 {
		return Score{}
	}

	first, last := events[0].Timestamp, events[0].Timestamp
	kinds := make(map[domain.SourceKind]struct{}, 4)
	for _, e := range events {
		if e.Timestamp < first {
			first = e.Timestamp
		}
		if e.Timestamp > last {
			last = e.Timestamp
		}
		kinds[e.SourceKind] = struct{}{}
	}
	span := last - first

	temporal := temporalOverlapScore(span, window)
	components := []float64{temporal}
	corrType := domain.CorrelationTemporal

	if causalOrderHolds(cfg.CausalPairs, events) {
		components = append(components, 1.0)
		corrType = domain.CorrelationCausal
	}
	if sem := semanticMatchScore(cfg.SemanticFields, events); sem > 0 {
		components = append(components, sem)
		if corrType == domain.CorrelationTemporal {
			corrType = domain.CorrelationSemantic
		}
	}

	var strength float64
	for _, c := range components {
		strength += c
	}
	strength /= float64(len(components))

	confidence := strength + cfg.DiversityBonus*float64(len(kinds)-1)
	if confidence > 1 {
		confidence = 1
	}

	return Score{Strength: strength, Confidence: confidence, Type: corrType, TimeSpan: span}
}

// temporalOverlapScore is 1 - span/window, floored at 0.
func temporalOverlapScore(span, window int64) float64 {
	if window <= 0 {
		return 0
	}
	s := 1.0 - float64(span)/float64(window)
	if s < 0 {
		return 0
	}
	return s
}

// causalOrderHolds reports whether any known producer-consumer ordering
// appears in the group: an event of the cause kind at or before an event of
// the effect kind.
func causalOrderHolds(pairs [][2]domain.SourceKind, events []domain.TimestampedEvent) bool {
	for _, pair := range pairs {
		var earliestCause, latestEffect int64
		haveCause, haveEffect := false, false
		for _, e := range events {
			switch e.SourceKind {
			case pair[0]:
				if !haveCause || e.Timestamp < earliestCause {
					earliestCause = e.Timestamp
				}
				haveCause = true
			case pair[1]:
				if !haveEffect || e.Timestamp > latestEffect {
					latestEffect = e.Timestamp
				}
				haveEffect = true
			}
		}
		if haveCause && haveEffect && earliestCause <= latestEffect {
			return true
		}
	}
	return false
}

// semanticMatchScore measures keyword agreement between the payloads of
// events from distinct source kinds. The score is the best token overlap
// seen across any cross-kind pair; 0 means no agreement (or nothing to
// compare), which callers treat as "component absent".
func semanticMatchScore(fields []string, events []domain.TimestampedEvent) float64 {
	type tokenized struct {
		kind   domain.SourceKind
		tokens map[string]struct{}
	}
	var toks []tokenized
	for _, e := range events {
		t := tokenize(fields, e)
		if len(t) > 0 {
			toks = append(toks, tokenized{kind: e.SourceKind, tokens: t})
		}
	}

	best := 0.0
	for i := 0; i < len(toks); i++ {
		for j := i + 1; j < len(toks); j++ {
			if toks[i].kind == toks[j].kind {
				continue
			}
			if s := overlap(toks[i].tokens, toks[j].tokens); s > best {
				best = s
			}
		}
	}
	return best
}

func tokenize(fields []string, e domain.TimestampedEvent) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range fields {
		for _, tok := range strings.Fields(strings.ToLower(e.PayloadString(f))) {
			tok = strings.Trim(tok, ".,!?\"'()[]")
			if len(tok) > 2 {
				out[tok] = struct{}{}
			}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	if len(small) == 0 {
		return 0
	}
	n := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			n++
		}
	}
	return float64(n) / float64(len(small))
}
