package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/replicate/rget/pkg/logging"
)

type Mode string

const (
	// ModeHard resets the bucket to the limit every period; unused tokens are lost.
	ModeHard Mode = "hard"
	// ModeSoft adds the limit every period, up to the bucket capacity.
	ModeSoft Mode = "soft"

	DefaultPeriod = time.Second
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHard, "":
		return ModeHard, nil
	case ModeSoft:
		return ModeSoft, nil
	}
	return "", fmt.Errorf("unknown rate limit mode %q, expected %q or %q", s, ModeHard, ModeSoft)
}

// Limiter refills a TokenBucket with MaxBytesPerSecond tokens once per period.
type Limiter struct {
	Bucket            *TokenBucket
	MaxBytesPerSecond int64
	Mode              Mode
	Period            time.Duration
}

func NewLimiter(bucket *TokenBucket, maxBytesPerSecond int64, mode Mode) *Limiter {
	return &Limiter{
		Bucket:            bucket,
		MaxBytesPerSecond: maxBytesPerSecond,
		Mode:              mode,
		Period:            DefaultPeriod,
	}
}

func (l *Limiter) refill() {
	if l.Mode == ModeSoft {
		l.Bucket.Add(l.MaxBytesPerSecond)
		return
	}
	l.Bucket.Set(l.MaxBytesPerSecond)
}

// Run refills the bucket every period until done is closed, in which case it
// returns nil, or ctx is cancelled, in which case it returns ctx.Err().
func (l *Limiter) Run(ctx context.Context, done <-chan struct{}) error {
	period := l.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	logger := logging.GetLogger()
	logger.Debug().
		Int64("max_bytes_per_second", l.MaxBytesPerSecond).
		Str("mode", string(l.Mode)).
		Msg("Rate limiter started")

	for {
		l.refill()
		select {
		case <-done:
			logger.Debug().Msg("Rate limiter stopped")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
