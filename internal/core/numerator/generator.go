package numerator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Generator issues sequential document numbers.
type Generator interface {
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)
}

// BuildKey returns the sequence key for cfg and period.
func BuildKey(cfg Config, period time.Time) string {
	switch cfg.ResetPeriod {
	case "month":
		return fmt.Sprintf("%s_%s", cfg.Prefix, period.Format("2006_01"))
	case "year":
		return fmt.Sprintf("%s_%s", cfg.Prefix, period.Format("2006"))
	default:
		return cfg.Prefix
	}
}

// Format renders num according to cfg.
func Format(cfg Config, period time.Time, num int64) string {
	padWidth := cfg.PadWidth
	if padWidth == 0 {
		padWidth = 5
	}
	if cfg.IncludeYear {
		return fmt.Sprintf("%s-%s-%0*d", cfg.Prefix, period.Format("2006"), padWidth, num)
	}
	return fmt.Sprintf("%s-%0*d", cfg.Prefix, padWidth, num)
}

// MemoryGenerator keeps sequences in process memory. It backs the
// in-memory storage mode and tests.
type MemoryGenerator struct {
	mu   sync.Mutex
	seqs map[string]int64
}

// NewMemoryGenerator creates an empty MemoryGenerator.
func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{seqs: make(map[string]int64)}
}

// GetNextNumber implements Generator.
func (g *MemoryGenerator) GetNextNumber(_ context.Context, cfg Config, _ *Options, period time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := BuildKey(cfg, period)
	g.seqs[key]++
	return Format(cfg, period, g.seqs[key]), nil
}

var _ Generator = (*MemoryGenerator)(nil)
