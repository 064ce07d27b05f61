package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"venuebook/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverLocker uses primary until it errors, then serves from fallback and
// retries primary once a minute. Contention is not a failure.
type FailoverLocker struct {
	primary   domain.ResourceLocker
	fallback  domain.ResourceLocker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverLocker(primary, fallback domain.ResourceLocker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *FailoverLocker) markDown(err error) {
	if !l.isDown.Swap(true) {
		l.logger.Error().Err(err).Msg("Primary resource locker failed, falling back to memory")
	}
	l.lastCheck.Store(time.Now().UnixNano())
}

func (l *FailoverLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	down := l.isDown.Load()
	if down && time.Since(time.Unix(0, l.lastCheck.Load())) > time.Minute {
		down = false
	}

	if !down {
		release, err := l.primary.Acquire(ctx, key, ttl)
		switch {
		case err == nil:
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("Primary resource locker recovered")
			}
			return release, nil
		case isLockContention(err):
			return nil, err
		default:
			l.markDown(err)
		}
	}

	return l.fallback.Acquire(ctx, key, ttl)
}

func isLockContention(err error) bool {
	return err != nil && errors.Is(err, domain.ErrLockNotAcquired)
}
