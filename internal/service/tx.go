package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libris/internal/domain"
	"libris/internal/metrics"

	"github.com/rs/zerolog"
)

// runInTx executes fn in one unit of work. A concurrency failure at commit is
// retried once with a fresh re-check; a second one is reported as conflict.
func runInTx(
	ctx context.Context,
	store domain.Store,
	logger *zerolog.Logger,
	operation string,
	conflict domain.Code,
	fn func(tx domain.Tx) error,
) error {
	err := store.WithinTx(ctx, fn)
	if !errors.Is(err, domain.ErrConcurrentModification) {
		return err
	}

	logger.Warn().Err(err).Str("operation", operation).Msg("concurrent modification, retrying")

	err = store.WithinTx(ctx, fn)
	if errors.Is(err, domain.ErrConcurrentModification) {
		return domain.Wrap(conflict, err, "")
	}
	return err
}

// lookupErr turns a missing record into NOT_FOUND and wraps anything else.
func lookupErr(err error, what string, id int64) error {
	if errors.Is(err, domain.ErrRecordNotFound) {
		return domain.Newf(domain.CodeNotFound, "%s %d not found", what, id)
	}
	return fmt.Errorf("failed to get %s %d: %w", what, id, err)
}

func observe(operation string, began time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.CodeOf(err))
	}
	metrics.ObserveLedger(operation, result, time.Since(began))
}

// logFailure logs expected domain failures quietly and everything else as errors.
func logFailure(logger *zerolog.Logger, operation string, err error) {
	if typed, ok := domain.As(err); ok && typed.Code() != domain.CodeInternal {
		logger.Debug().Str("operation", operation).Str("code", string(typed.Code())).Msg(typed.Message())
		return
	}
	logger.Error().Err(err).Str("operation", operation).Msg("ledger operation failed")
}

func publish(publisher domain.EventPublisher, logger *zerolog.Logger, eventType string, payload interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishJSON(eventType, payload); err != nil {
		logger.Warn().Err(err).Str("event", eventType).Msg("event handler failed")
	}
}

func nopLogger(logger *zerolog.Logger) *zerolog.Logger {
	if logger != nil {
		return logger
	}
	nop := zerolog.Nop()
	return &nop
}
