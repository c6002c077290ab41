// Package ratelimit throttles outbound actions on the client using token
// buckets, so a runaway loop or a pasted wall of text cannot flood the API.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/homefix/messenger/internal/logger"
)

// Rule defines a throttling policy: Rate actions per second on average,
// with bursts of up to Burst.
type Rule struct {
	Name  string     // label used in logs, e.g. "send"
	Rate  rate.Limit // events per second; <= 0 or rate.Inf disables throttling
	Burst int
}

// RuleSend allows 5 outbound messages per 10 seconds. It is the rule used
// when no send rate is configured.
var RuleSend = Rule{Name: "send", Rate: 0.5, Burst: 5}

// PerSecond builds a Rule from a per-second rate, as found in configuration.
// A rate <= 0 disables throttling.
func PerSecond(name string, perSecond float64, burst int) Rule {
	if perSecond <= 0 {
		return Rule{Name: name, Rate: rate.Inf, Burst: burst}
	}
	return Rule{Name: name, Rate: rate.Limit(perSecond), Burst: burst}
}

func (r Rule) every() rate.Limit {
	if r.Rate <= 0 {
		return rate.Inf
	}
	return r.Rate
}

// idleTTL is how long an untouched bucket is kept. Buckets are only dropped
// once they have refilled, so eviction never loosens a limit.
const idleTTL = 10 * time.Minute

type bucketEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per identifier under a single Rule.
type Limiter struct {
	rule Rule
	now  func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucketEntry
}

// NewLimiter creates a Limiter enforcing rule.
func NewLimiter(rule Rule) *Limiter {
	if rule.Burst <= 0 {
		rule.Burst = 1
	}
	return &Limiter{rule: rule, now: time.Now, buckets: make(map[string]*bucketEntry)}
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) bucket(identifier string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.buckets[identifier]; ok {
		e.lastSeen = now
		return e.l
	}
	l.evictLocked(now)
	b := rate.NewLimiter(l.rule.every(), l.rule.Burst)
	l.buckets[identifier] = &bucketEntry{l: b, lastSeen: now}
	return b
}

// evictLocked drops buckets idle for idleTTL whose tokens are back to the
// full burst.
func (l *Limiter) evictLocked(now time.Time) {
	cutoff := now.Add(-idleTTL)
	for id, e := range l.buckets {
		if e.lastSeen.Before(cutoff) && e.l.TokensAt(now) >= float64(l.rule.Burst) {
			delete(l.buckets, id)
		}
	}
}

// Allow reports whether an action for identifier may proceed now, consuming
// a token if so.
func (l *Limiter) Allow(identifier string) bool {
	return l.bucket(identifier).Allow()
}

// Wait blocks until an action for identifier may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, identifier string) error {
	b := l.bucket(identifier)
	r := b.Reserve()
	if !r.OK() {
		return fmt.Errorf("ratelimit: %s: burst exceeded", l.rule.Name)
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	logger.Named("ratelimit").Debugw("throttled", "rule", l.rule.Name, "delay", delay)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
