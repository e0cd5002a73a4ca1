package service

import (
	"context"
	"time"

	"libris/internal/domain"
	"libris/internal/models"

	"github.com/rs/zerolog"
)

// StateService manages assistant sessions and the pending actions awaiting
// user confirmation.
type StateService struct {
	stateRepo domain.StateRepository
	ttl       time.Duration
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewStateService(stateRepo domain.StateRepository, ttl time.Duration, logger *zerolog.Logger) *StateService {
	return &StateService{
		stateRepo: stateRepo,
		ttl:       ttl,
		logger:    nopLogger(logger),
		now:       time.Now,
	}
}

func (s *StateService) SetClock(now func() time.Time) {
	s.now = now
}

// GetSession never returns a nil session for a healthy repository.
func (s *StateService) GetSession(ctx context.Context, accountID int64) (*models.AssistantSession, error) {
	session, err := s.stateRepo.GetSession(ctx, accountID)
	if err != nil {
		s.logger.Error().Err(err).Int64("account_id", accountID).Msg("failed to get assistant session")
		return nil, err
	}
	if session == nil {
		session = &models.AssistantSession{AccountID: accountID}
	}
	return session, nil
}

func (s *StateService) RecordIntent(ctx context.Context, accountID int64, intent string) error {
	return s.update(ctx, accountID, func(session *models.AssistantSession) error {
		session.LastIntent = intent
		session.UpdatedAt = s.now()
		return nil
	})
}

// SetPending replaces any earlier pending action of the account.
func (s *StateService) SetPending(ctx context.Context, accountID int64, pending *models.PendingAction) error {
	pending.CreatedAt = s.now()
	return s.update(ctx, accountID, func(session *models.AssistantSession) error {
		session.Pending = pending
		session.UpdatedAt = pending.CreatedAt
		return nil
	})
}

// TakePending removes and returns the pending action matching token. Missing,
// mismatched and expired tokens yield NOT_FOUND. Of several concurrent calls
// with the same token at most one gets the action.
func (s *StateService) TakePending(ctx context.Context, accountID int64, token string) (*models.PendingAction, error) {
	var pending *models.PendingAction
	err := s.update(ctx, accountID, func(session *models.AssistantSession) error {
		pending = nil
		if session.Pending == nil || session.Pending.Token != token {
			return domain.New(domain.CodeNotFound, "no pending action for this confirmation")
		}
		pending = session.Pending
		session.Pending = nil
		session.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.ttl > 0 && s.now().Sub(pending.CreatedAt) > s.ttl {
		return nil, domain.New(domain.CodeNotFound, "confirmation expired")
	}
	return pending, nil
}

func (s *StateService) update(ctx context.Context, accountID int64, fn func(session *models.AssistantSession) error) error {
	err := s.stateRepo.UpdateSession(ctx, accountID, fn)
	if _, typed := domain.As(err); err != nil && !typed {
		s.logger.Error().Err(err).Int64("account_id", accountID).Msg("failed to update assistant session")
	}
	return err
}

func (s *StateService) ClearSession(ctx context.Context, accountID int64) error {
	return s.stateRepo.ClearSession(ctx, accountID)
}

func (s *StateService) CheckRateLimit(ctx context.Context, accountID int64, limit int, window time.Duration) (bool, error) {
	return s.stateRepo.CheckRateLimit(ctx, accountID, limit, window)
}
