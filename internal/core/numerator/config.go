// Package numerator defines receipt numbering contracts.
package numerator

// Strategy defines the numbering generation strategy.
type Strategy int

const (
	// StrategyStrict bumps the sequence row for every number inside the
	// caller's transaction, so a rolled-back post leaves no gap.
	StrategyStrict Strategy = iota

	// StrategyCached reserves ranges in memory. Restarts leave gaps.
	StrategyCached
)

// Options configuration for number generation.
type Options struct {
	Strategy Strategy
	// RangeSize is the reservation size for StrategyCached. Default 50.
	RangeSize int64
}

// DefaultOptions returns standard options (Strict).
func DefaultOptions() *Options {
	return &Options{Strategy: StrategyStrict}
}

// Config holds numbering configuration.
type Config struct {
	// Prefix added to all numbers (e.g. "PAY")
	Prefix string

	// IncludeYear adds year to the number
	IncludeYear bool

	// PadWidth is the minimum number width (default 5)
	PadWidth int

	// ResetPeriod: "year", "month", "never"
	ResetPeriod string
}

// DefaultConfig returns PREFIX-YYYY-00001 numbering reset yearly.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		IncludeYear: true,
		PadWidth:    5,
		ResetPeriod: "year",
	}
}
