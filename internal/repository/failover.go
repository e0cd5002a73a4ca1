package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"libris/internal/domain"
	"libris/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStateRepository uses the primary until it fails, then serves from
// the fallback and probes the primary again once a minute.
type FailoverStateRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStateRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

// usePrimary reports whether the next call should go to the primary.
func (r *FailoverStateRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverStateRepository) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary state repository recovered")
	}
}

func (r *FailoverStateRepository) GetSession(ctx context.Context, accountID int64) (*models.AssistantSession, error) {
	if r.usePrimary() {
		session, err := r.primary.GetSession(ctx, accountID)
		if err == nil {
			r.recovered()
			return session, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetSession(ctx, accountID)
}

func (r *FailoverStateRepository) SaveSession(ctx context.Context, session *models.AssistantSession) error {
	if r.usePrimary() {
		err := r.primary.SaveSession(ctx, session)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SaveSession(ctx, session)
}

// UpdateSession falls back only when the primary itself failed. Errors
// returned by fn and write contention are passed through.
func (r *FailoverStateRepository) UpdateSession(ctx context.Context, accountID int64, fn func(session *models.AssistantSession) error) error {
	if r.usePrimary() {
		var fnErr error
		err := r.primary.UpdateSession(ctx, accountID, func(session *models.AssistantSession) error {
			fnErr = fn(session)
			return fnErr
		})
		if err == nil || (fnErr != nil && errors.Is(err, fnErr)) || errors.Is(err, domain.ErrConcurrentModification) {
			r.recovered()
			return err
		}
		r.markDown(err)
	}
	return r.fallback.UpdateSession(ctx, accountID, fn)
}

func (r *FailoverStateRepository) ClearSession(ctx context.Context, accountID int64) error {
	if r.usePrimary() {
		err := r.primary.ClearSession(ctx, accountID)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.ClearSession(ctx, accountID)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, accountID int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, accountID, limit, window)
		if err == nil {
			r.recovered()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, accountID, limit, window)
}
