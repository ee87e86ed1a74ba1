package scoring

import (
	"strings"

	"promoflow-engine/pkg/config"
	"promoflow-engine/services/platform"

	"go.uber.org/fx"
)

// Weights holds the per-engagement-type base points plus the quality
// bonus magnitudes. Campaigns may override the base weights; a zero or
// unset campaign weight falls back to the global default.
type Weights struct {
	Quote   int
	Comment int
	Repost  int

	VerifiedBonus     int
	BigAccountBonus   int
	MatureAccountDays int
	MatureBonus       int
}

func DefaultWeights(cfg *config.Config) Weights {
	return Weights{
		Quote:   cfg.Scoring.QuoteWeight,
		Comment: cfg.Scoring.CommentWeight,
		Repost:  cfg.Scoring.RepostWeight,

		VerifiedBonus:     cfg.Scoring.VerifiedBonus,
		BigAccountBonus:   cfg.Scoring.BigAccountBonus,
		MatureAccountDays: cfg.Scoring.MatureAccountDays,
		MatureBonus:       cfg.Scoring.MatureBonus,
	}
}

// WithOverrides returns a copy with campaign-level base weights applied.
// Zero values keep the default.
func (w Weights) WithOverrides(quote, comment, repost int) Weights {
	if quote > 0 {
		w.Quote = quote
	}
	if comment > 0 {
		w.Comment = comment
	}
	if repost > 0 {
		w.Repost = repost
	}
	return w
}

// Base returns the weight for an engagement type. Replies count as
// comments. Unknown types score zero.
func (w Weights) Base(kind platform.EngagementType) int {
	switch kind {
	case platform.EngagementQuote:
		return w.Quote
	case platform.EngagementComment, platform.EngagementReply:
		return w.Comment
	case platform.EngagementRepost:
		return w.Repost
	default:
		return 0
	}
}

// NormalizeHandle lowercases a handle and strips the leading @ so big
// account matching is insensitive to how the platform renders names.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// QualityBonus sums the bonuses earned by one engaging account:
// verification, membership in the campaign's big-account list, and
// account age. Bonuses are independent and additive.
func (w Weights) QualityBonus(p platform.EngagerProfile, handle string, bigAccounts map[string]bool) int {
	bonus := 0
	if p.Verified {
		bonus += w.VerifiedBonus
	}
	if bigAccounts[NormalizeHandle(handle)] {
		bonus += w.BigAccountBonus
	}
	if p.AccountAgeDays >= w.MatureAccountDays {
		bonus += w.MatureBonus
	}
	return bonus
}

// BigAccountSet normalizes a campaign's flagged handles into a lookup set.
func BigAccountSet(handles []string) map[string]bool {
	set := make(map[string]bool, len(handles))
	for _, h := range handles {
		if n := NormalizeHandle(h); n != "" {
			set[n] = true
		}
	}
	return set
}

// BatchPoints computes the points contributed by each engagement in a
// batch, in order: base weight per engagement, plus the quality bonus
// once per distinct engaging user regardless of how many of their
// engagements are counted. Deterministic given inputs.
func BatchPoints(engagements []platform.Engagement, w Weights, bigAccounts map[string]bool) []int {
	points := make([]int, len(engagements))
	seen := make(map[string]bool)

	for i, e := range engagements {
		base := w.Base(e.Type)
		if base == 0 {
			continue
		}
		points[i] = base

		actor := NormalizeHandle(e.ActorHandle)
		if seen[actor] {
			continue
		}
		seen[actor] = true
		points[i] += w.QualityBonus(e.Profile, e.ActorHandle, bigAccounts)
	}

	return points
}

// ScoreEngagements is the batch total of BatchPoints.
func ScoreEngagements(engagements []platform.Engagement, w Weights, bigAccounts map[string]bool) int {
	total := 0
	for _, p := range BatchPoints(engagements, w, bigAccounts) {
		total += p
	}
	return total
}

// ScoreEngagement scores a single engagement including its actor's
// quality bonus. Used when engagements arrive one at a time from a
// continuation cursor rather than as a batch.
func ScoreEngagement(e platform.Engagement, w Weights, bigAccounts map[string]bool) int {
	base := w.Base(e.Type)
	if base == 0 {
		return 0
	}
	return base + w.QualityBonus(e.Profile, e.ActorHandle, bigAccounts)
}

var Module = fx.Module("scoring.service",
	fx.Provide(DefaultWeights),
)
