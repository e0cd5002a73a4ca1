package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	err := New(CodeSlotConflict, "")
	assert.Equal(t, CodeSlotConflict, err.Code())
	assert.Equal(t, "slot no longer available", err.Message())
	assert.Equal(t, "SLOT_CONFLICT: slot no longer available", err.Error())

	wrapped := fmt.Errorf("create booking: %w", err)
	assert.Equal(t, CodeSlotConflict, CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, New(CodeSlotConflict, "other message")))
	assert.False(t, errors.Is(wrapped, New(CodeOutOfStock, "")))

	typed, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, err, typed)
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(CodeInternal, ErrConcurrentModification, "commit failed")
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Contains(t, err.Error(), "concurrent modification")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeNotFound, CodeOf(Newf(CodeNotFound, "resource %d not found", 3)))
}

func TestMetadataFor(t *testing.T) {
	tests := []struct {
		code     Code
		status   int
		category Category
	}{
		{CodeInvalidRange, http.StatusUnprocessableEntity, CategoryValidation},
		{CodeInvalidQuantity, http.StatusUnprocessableEntity, CategoryValidation},
		{CodeSlotConflict, http.StatusConflict, CategoryConflict},
		{CodeOutOfStock, http.StatusConflict, CategoryConflict},
		{CodeForbidden, http.StatusForbidden, CategoryAuthorization},
		{CodeNotFound, http.StatusNotFound, CategoryAuthorization},
		{CodeInsufficientBalance, http.StatusPaymentRequired, CategoryResource},
		{CodeCancellationWindowPassed, http.StatusConflict, CategoryPolicy},
		{Code("UNKNOWN"), http.StatusInternalServerError, CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			md := MetadataFor(tt.code)
			assert.Equal(t, tt.status, md.HTTPStatus)
			assert.Equal(t, tt.category, md.Category)
		})
	}
}
