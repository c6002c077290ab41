package realtime

import (
	"math/rand/v2"
	"time"
)

// BackoffConfig tunes the delay between reconnect attempts.
type BackoffConfig struct {
	Initial     time.Duration // first delay (default: 500ms)
	Max         time.Duration // cap before jitter (default: 30s)
	Multiplier  float64       // growth per attempt (default: 2)
	Jitter      float64       // +/- fraction applied to each delay (default: 0.2)
	MaxAttempts int           // consecutive failures before giving up, 0 = never
}

// DefaultBackoffConfig returns the reconnect schedule used by the CLI.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// backoff yields successive reconnect delays. Not safe for concurrent use;
// each Run loop owns one.
type backoff struct {
	cfg  BackoffConfig
	next time.Duration
	rnd  func() float64 // uniform in [0, 1)
}

func newBackoff(cfg BackoffConfig, rnd func() float64) *backoff {
	def := DefaultBackoffConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return &backoff{cfg: cfg, next: cfg.Initial, rnd: rnd}
}

// Next returns the delay before the upcoming attempt and advances the
// schedule. The result lies within [base*(1-Jitter), base*(1+Jitter)] where
// base never exceeds Max.
func (b *backoff) Next() time.Duration {
	base := b.next

	grown := time.Duration(float64(b.next) * b.cfg.Multiplier)
	if grown > b.cfg.Max || grown <= 0 {
		grown = b.cfg.Max
	}
	b.next = grown

	if b.cfg.Jitter == 0 {
		return base
	}
	// Map rnd's [0,1) onto [-Jitter, +Jitter).
	factor := 1 + b.cfg.Jitter*(2*b.rnd()-1)
	return time.Duration(float64(base) * factor)
}

// Reset restarts the schedule after a successful connection.
func (b *backoff) Reset() {
	b.next = b.cfg.Initial
}
