// Package ranking orders deals for trending and "best for you" surfaces.
// It is a pure scoring function over a possibly stale signal snapshot:
// deterministic for a given input, with no correctness invariant beyond that.
package ranking

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/vendly/promo-engine/internal/domain/instrument"
)

// Signals is the per-deal snapshot of engagement counters. Staleness is
// acceptable; the source may lag the tracking endpoint by minutes.
type Signals struct {
	Clicks      int64
	Impressions int64
}

// SignalSource supplies click and impression counters for a set of deals.
type SignalSource interface {
	Snapshot(ctx context.Context, dealIDs []string) (map[string]Signals, error)
	TrackClick(ctx context.Context, dealID string) error
	TrackImpression(ctx context.Context, dealID string) error
}

// Weights tunes the scoring formula. All components are normalized to [0,1]
// before weighting.
type Weights struct {
	CTR       float64
	Recency   float64
	Featured  float64
	Remaining float64
	Campaign  float64
}

// DefaultWeights favors engagement, with featured placement and remaining
// stock as secondary signals.
func DefaultWeights() Weights {
	return Weights{
		CTR:       0.35,
		Recency:   0.25,
		Featured:  0.2,
		Remaining: 0.1,
		Campaign:  0.1,
	}
}

// Ranked is one deal with its computed score, ordered best-first.
type Ranked struct {
	Deal  instrument.Deal
	Score float64
}

// Rank scores and orders the candidate deals. Promotions contribute a
// campaign boost to the deals they reference. Ties break by deal id so the
// ordering is stable regardless of input order.
func Rank(deals []instrument.Deal, signals map[string]Signals, promotions []instrument.Promotion, now time.Time, w Weights) []Ranked {
	boosted := campaignBoosts(promotions, now)

	ranked := make([]Ranked, 0, len(deals))
	for _, d := range deals {
		sig := signals[d.ID]
		score := w.CTR*ctr(sig) +
			w.Recency*recency(d.StartAt, now) +
			w.Featured*b2f(d.IsFeatured) +
			w.Remaining*remainingFraction(d.Limits) +
			w.Campaign*boosted[d.ID]
		ranked = append(ranked, Ranked{Deal: d, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Deal.ID < ranked[j].Deal.ID
	})
	return ranked
}

// ctr returns clicks over impressions, clamped to [0,1]. No impressions
// means no evidence, scored zero.
func ctr(s Signals) float64 {
	if s.Impressions <= 0 {
		return 0
	}
	r := float64(s.Clicks) / float64(s.Impressions)
	return math.Min(r, 1)
}

// recency decays with the age of the deal: 1 at launch, halving roughly
// every three days.
func recency(startAt time.Time, now time.Time) float64 {
	age := now.Sub(startAt)
	if age <= 0 {
		return 1
	}
	days := age.Hours() / 24
	return math.Exp2(-days / 3)
}

// remainingFraction is the unredeemed share of a limited deal; unlimited
// deals score full.
func remainingFraction(l instrument.Limits) float64 {
	if l.Total <= 0 {
		return 1
	}
	remaining := l.Total - l.Redeemed
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) / float64(l.Total)
}

// campaignBoosts maps deal ids to a boost in [0,1] from active promotions
// referencing them. Conversion-objective campaigns on push channels count
// more than passive banner placements.
func campaignBoosts(promotions []instrument.Promotion, now time.Time) map[string]float64 {
	boosts := make(map[string]float64)
	for _, p := range promotions {
		if !p.IsActive || now.Before(p.StartAt) || !now.Before(p.EndAt) {
			continue
		}
		b := channelWeight(p.Channel)
		if p.Objective == "conversion" {
			b += 0.25
		}
		if b > 1 {
			b = 1
		}
		for _, id := range p.InstrumentIDs {
			if b > boosts[id] {
				boosts[id] = b
			}
		}
	}
	return boosts
}

func channelWeight(channel string) float64 {
	switch channel {
	case "email", "sms":
		return 0.75
	case "social", "referral":
		return 0.5
	case "banner":
		return 0.25
	default:
		return 0
	}
}

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
