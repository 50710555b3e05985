package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"stolik/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker uses the primary locker while it answers and switches to the
// fallback on infrastructure errors. Lock timeouts are not failures.
type FailoverLocker struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *FailoverLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	// Try to recover after a minute
	if l.isDown.Load() && l.now().Sub(time.Unix(0, l.lastCheck.Load())) > recoveryInterval {
		l.isDown.Store(false)
		l.logger.Info().Msg("Retrying primary locker")
	}

	if !l.isDown.Load() {
		release, err := l.primary.Lock(ctx, key, ttl)
		if err == nil || errors.Is(err, domain.ErrLockTimeout) {
			return release, err
		}
		l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
		l.isDown.Store(true)
		l.lastCheck.Store(l.now().UnixNano())
	}

	return l.fallback.Lock(ctx, key, ttl)
}
