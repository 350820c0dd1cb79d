package signals

import (
	"context"

	"github.com/vendly/promo-engine/internal/domain/ranking"
)

var _ ranking.SignalSource = Noop{}

// Noop is the SignalSource used when no Redis instance is configured.
// Trending still works; every deal just scores with zero engagement.
type Noop struct{}

func (Noop) Snapshot(_ context.Context, _ []string) (map[string]ranking.Signals, error) {
	return map[string]ranking.Signals{}, nil
}

func (Noop) TrackClick(context.Context, string) error      { return nil }
func (Noop) TrackImpression(context.Context, string) error { return nil }
