// Package numerator implements numerator.Generator on a PostgreSQL sequence table.
package numerator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	corenumerator "paydesk/internal/core/numerator"
)

// Querier is the subset of pgx used for sequence bumps.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFunc resolves the querier for a call, normally the transaction in ctx.
type QuerierFunc func(ctx context.Context) Querier

type cachedRange struct {
	current int64
	max     int64
}

// Service issues numbers from sys_numerators.
type Service struct {
	querier QuerierFunc

	cacheMu sync.Mutex
	ranges  map[string]*cachedRange
}

// New creates a Service bound to a fixed querier.
func New(q Querier) *Service {
	return NewWithResolver(func(context.Context) Querier { return q })
}

// NewWithResolver creates a Service that asks resolve for the querier on
// every call, so strict numbers join the caller's transaction.
func NewWithResolver(resolve QuerierFunc) *Service {
	return &Service{
		querier: resolve,
		ranges:  make(map[string]*cachedRange),
	}
}

// GetNextNumber implements numerator.Generator.
func (s *Service) GetNextNumber(ctx context.Context, cfg corenumerator.Config, opts *corenumerator.Options, period time.Time) (string, error) {
	if s == nil {
		return "", fmt.Errorf("numerator service is not initialized")
	}
	if opts == nil {
		opts = corenumerator.DefaultOptions()
	}

	key := corenumerator.BuildKey(cfg, period)

	var (
		num int64
		err error
	)
	switch opts.Strategy {
	case corenumerator.StrategyCached:
		num, err = s.nextCached(ctx, key, opts.RangeSize)
	default:
		num, err = s.reserve(ctx, key, 1)
	}
	if err != nil {
		return "", err
	}

	return corenumerator.Format(cfg, period, num), nil
}

// SetNextNumber overwrites a sequence, e.g. when migrating receipt books.
func (s *Service) SetNextNumber(ctx context.Context, cfg corenumerator.Config, period time.Time, value int64) error {
	key := corenumerator.BuildKey(cfg, period)

	var result int64
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_numerators (key, current_val)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET current_val = $2
		RETURNING current_val
	`, key, value).Scan(&result)
	if err != nil {
		return fmt.Errorf("set next number: %w", err)
	}

	s.cacheMu.Lock()
	delete(s.ranges, key)
	s.cacheMu.Unlock()
	return nil
}

// reserve bumps the sequence by n and returns the new high-water mark.
func (s *Service) reserve(ctx context.Context, key string, n int64) (int64, error) {
	var val int64
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_numerators (key, current_val)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET current_val = sys_numerators.current_val + $2
		RETURNING current_val
	`, key, n).Scan(&val)
	if err != nil {
		return 0, fmt.Errorf("reserve number %s: %w", key, err)
	}
	return val, nil
}

func (s *Service) nextCached(ctx context.Context, key string, size int64) (int64, error) {
	if size <= 0 {
		size = 50
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	rng, ok := s.ranges[key]
	if !ok {
		rng = &cachedRange{}
		s.ranges[key] = rng
	}

	if rng.current >= rng.max {
		newMax, err := s.reserve(ctx, key, size)
		if err != nil {
			return 0, err
		}
		rng.current = newMax - size
		rng.max = newMax
	}

	rng.current++
	return rng.current, nil
}

var _ corenumerator.Generator = (*Service)(nil)
