// Package redis stores target state and the status cache in Redis under
// monitor:{id}:state, monitor:{id}:status and monitor:{id}:history.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/repo"
)

var (
	_ repo.StateStore  = (*Store)(nil)
	_ repo.StatusCache = (*Store)(nil)
)

func stateKey(id domain.TargetID) string   { return "monitor:" + string(id) + ":state" }
func statusKey(id domain.TargetID) string  { return "monitor:" + string(id) + ":status" }
func historyKey(id domain.TargetID) string { return "monitor:" + string(id) + ":history" }

type Store struct {
	client  redis.UniversalClient
	log     *zap.Logger
	history int
}

func New(client redis.UniversalClient, historyLen int, log *zap.Logger) *Store {
	if historyLen < 1 {
		historyLen = repo.DefaultHistoryLength
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, log: log, history: historyLen}
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// ---- StateStore ----

func (s *Store) Get(ctx context.Context, id domain.TargetID) (domain.State, error) {
	v, err := s.client.Get(ctx, stateKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.StateUnknown, nil
	}
	if err != nil {
		return domain.StateUnknown, fmt.Errorf("redis get state %s: %w", id, err)
	}
	st, err := domain.ParseState(v)
	if err != nil {
		s.log.Warn("state_unreadable", zap.String("target_id", string(id)), zap.String("value", v))
		return domain.StateUnknown, nil
	}
	return st, nil
}

func (s *Store) Set(ctx context.Context, id domain.TargetID, st domain.State) error {
	if err := s.client.Set(ctx, stateKey(id), string(st), 0).Err(); err != nil {
		return fmt.Errorf("redis set state %s: %w", id, err)
	}
	return nil
}

// ---- StatusCache ----

func (s *Store) Put(ctx context.Context, r domain.ProbeResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, statusKey(r.TargetID), b, 0)
		p.LPush(ctx, historyKey(r.TargetID), b)
		p.LTrim(ctx, historyKey(r.TargetID), 0, int64(s.history-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis cache %s: %w", r.TargetID, err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, id domain.TargetID) (*domain.ProbeResult, error) {
	b, err := s.client.Get(ctx, statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get status %s: %w", id, err)
	}
	var r domain.ProbeResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) History(ctx context.Context, id domain.TargetID) ([]domain.ProbeResult, error) {
	raw, err := s.client.LRange(ctx, historyKey(id), 0, int64(s.history-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history %s: %w", id, err)
	}
	out := make([]domain.ProbeResult, 0, len(raw))
	// stored newest first
	for i := len(raw) - 1; i >= 0; i-- {
		var r domain.ProbeResult
		if err := json.Unmarshal([]byte(raw[i]), &r); err != nil {
			s.log.Warn("history_entry_unreadable", zap.String("target_id", string(id)), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
