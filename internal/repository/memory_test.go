package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"libris/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateRepository(t *testing.T) {
	repo := NewMemoryStateRepository(time.Hour)
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("SaveAndGetSession", func(t *testing.T) {
		session := &models.AssistantSession{AccountID: 123, LastIntent: "books"}
		require.NoError(t, repo.SaveSession(ctx, session))

		got, err := repo.GetSession(ctx, 123)
		require.NoError(t, err)
		assert.Equal(t, session, got)
	})

	t.Run("SessionExpires", func(t *testing.T) {
		require.NoError(t, repo.SaveSession(ctx, &models.AssistantSession{AccountID: 7}))
		now = now.Add(2 * time.Hour)

		got, err := repo.GetSession(ctx, 7)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ClearSession", func(t *testing.T) {
		require.NoError(t, repo.SaveSession(ctx, &models.AssistantSession{AccountID: 123}))
		require.NoError(t, repo.ClearSession(ctx, 123))
		got, _ := repo.GetSession(ctx, 123)
		assert.Nil(t, got)
	})

	t.Run("UpdateSession", func(t *testing.T) {
		require.NoError(t, repo.UpdateSession(ctx, 55, func(session *models.AssistantSession) error {
			assert.Equal(t, int64(55), session.AccountID)
			session.LastIntent = "slots"
			return nil
		}))

		boom := errors.New("boom")
		err := repo.UpdateSession(ctx, 55, func(session *models.AssistantSession) error {
			session.LastIntent = "discarded"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.GetSession(ctx, 55)
		require.NoError(t, err)
		assert.Equal(t, "slots", got.LastIntent)
	})

	t.Run("ConcurrentTakeOfPendingAction", func(t *testing.T) {
		require.NoError(t, repo.SaveSession(ctx, &models.AssistantSession{
			AccountID: 66,
			Pending:   &models.PendingAction{Token: "tok"},
		}))

		var taken atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = repo.UpdateSession(ctx, 66, func(session *models.AssistantSession) error {
					if session.Pending == nil {
						return errors.New("gone")
					}
					session.Pending = nil
					taken.Add(1)
					return nil
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), taken.Load())
	})

	t.Run("RateLimit", func(t *testing.T) {
		accountID := int64(456)
		allowed, _ := repo.CheckRateLimit(ctx, accountID, 2, time.Second)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, accountID, 2, time.Second)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, accountID, 2, time.Second)
		assert.False(t, allowed)

		now = now.Add(time.Second + 10*time.Millisecond)
		allowed, _ = repo.CheckRateLimit(ctx, accountID, 2, time.Second)
		assert.True(t, allowed)
	})
}
