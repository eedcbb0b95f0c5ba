package engine

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

// Sweep freezes open rounds whose deadline has passed and resolves every
// locked round. Matches are processed concurrently, at most concurrency at
// a time; rounds of one match run in order and stop at the first failure.
// It returns the number of rounds resolved.
func (s *Service) Sweep(ctx context.Context, concurrency int) (int, error) {
	due, err := s.store.ListDueRounds(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var order []string
	byMatch := make(map[string][]match.Round)
	for _, r := range due {
		if _, ok := byMatch[r.MatchID]; !ok {
			order = append(order, r.MatchID)
		}
		byMatch[r.MatchID] = append(byMatch[r.MatchID], r)
	}

	var resolved atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, matchID := range order {
		rounds := byMatch[matchID]
		g.Go(func() error {
			for _, r := range rounds {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				key := storage.RoundKey{MatchID: r.MatchID, Round: r.Number}
				if r.Status == match.RoundOpen {
					if _, err := s.Freeze(gctx, key); err != nil && !errors.Is(err, storage.ErrAlreadyFrozen) {
						s.logger.Warn("sweep freeze", append(roundFields(key), zap.Error(err))...)
						return nil
					}
				}
				if _, err := s.Resolve(gctx, key); err != nil {
					s.logger.Warn("sweep resolve", append(roundFields(key),
						zap.Bool("retryable", !IsNonRetryable(err)),
						zap.Error(err),
					)...)
					return nil
				}
				resolved.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(resolved.Load()), err
}
