// Package signals stores and serves the engagement counters the ranking
// service reads. The backing Redis instance is a tolerated-staleness side
// store: losing it degrades ranking, never correctness.
package signals

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
	rd "github.com/redis/go-redis/v9"

	"github.com/vendly/promo-engine/internal/domain/ranking"
)

// clickKey and impressionKey follow one naming convention so operators can
// scan the keyspace by prefix.
func clickKey(dealID string) string {
	return fmt.Sprintf("promo:deal:clicks:%s", dealID)
}

func impressionKey(dealID string) string {
	return fmt.Sprintf("promo:deal:impressions:%s", dealID)
}

var _ ranking.SignalSource = (*Redis)(nil)

// Redis implements ranking.SignalSource on plain Redis counters.
type Redis struct {
	rdb *rd.Client
}

// NewRedis wraps an existing client.
func NewRedis(rdb *rd.Client) *Redis {
	return &Redis{rdb: rdb}
}

// TrackClick increments the click counter for a deal. Fed by the external
// tracking endpoint; a lost increment is acceptable.
func (s *Redis) TrackClick(ctx context.Context, dealID string) error {
	if err := s.rdb.Incr(ctx, clickKey(dealID)).Err(); err != nil {
		return errors.Wrapf(err, "track click for deal %s", dealID)
	}
	return nil
}

// TrackImpression increments the impression counter for a deal.
func (s *Redis) TrackImpression(ctx context.Context, dealID string) error {
	if err := s.rdb.Incr(ctx, impressionKey(dealID)).Err(); err != nil {
		return errors.Wrapf(err, "track impression for deal %s", dealID)
	}
	return nil
}

// Snapshot reads counters for all deals in one pipelined round trip. Missing
// keys read as zero.
func (s *Redis) Snapshot(ctx context.Context, dealIDs []string) (map[string]ranking.Signals, error) {
	out := make(map[string]ranking.Signals, len(dealIDs))
	if len(dealIDs) == 0 {
		return out, nil
	}

	cmds := make(map[string][2]*rd.StringCmd, len(dealIDs))
	pipe := s.rdb.Pipeline()
	for _, id := range dealIDs {
		cmds[id] = [2]*rd.StringCmd{
			pipe.Get(ctx, clickKey(id)),
			pipe.Get(ctx, impressionKey(id)),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, rd.Nil) {
		return nil, errors.Wrap(err, "snapshot deal signals")
	}

	for id, pair := range cmds {
		out[id] = ranking.Signals{
			Clicks:      counterValue(pair[0]),
			Impressions: counterValue(pair[1]),
		}
	}
	return out, nil
}

// counterValue reads a counter command result, treating missing or garbled
// keys as zero.
func counterValue(cmd *rd.StringCmd) int64 {
	v, err := cmd.Result()
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
