package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shohag/hookrelay/internal/config"
)

const (
	DefaultInitialInterval = 30 * time.Second
	DefaultMaxInterval     = time.Hour
	DefaultMultiplier      = 2.0
)

// RetryPolicy turns an attempt number into the wait before that attempt.
type RetryPolicy struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		initial:    cfg.InitialInterval,
		max:        cfg.MaxInterval,
		multiplier: cfg.Multiplier,
	}
	if p.initial <= 0 {
		p.initial = DefaultInitialInterval
	}
	if p.max <= 0 {
		p.max = DefaultMaxInterval
	}
	if p.multiplier < 1 {
		p.multiplier = DefaultMultiplier
	}
	return p
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.initial
	exp.MaxInterval = p.max
	exp.Multiplier = p.multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}

// Delay returns how long to wait before attempt. Attempt 2 (the first retry)
// waits the initial interval; each later attempt multiplies it, capped at max.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	exp := p.newBackOff()
	d := exp.NextBackOff()
	for i := 2; i < attempt; i++ {
		d = exp.NextBackOff()
	}
	return d
}

// NextAttemptAt schedules attempt relative to now.
func (p RetryPolicy) NextAttemptAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt)).UTC()
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
