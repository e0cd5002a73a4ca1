package service

import (
	"context"
	"time"

	"libris/internal/domain"
	"libris/internal/events"
	"libris/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const opPurchase = "purchase"

// PurchaseService owns book stock and the balance debit paired with it.
type PurchaseService struct {
	store    domain.Store
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewPurchaseService(store domain.Store, eventBus domain.EventPublisher, logger *zerolog.Logger) *PurchaseService {
	return &PurchaseService{
		store:    store,
		eventBus: eventBus,
		logger:   nopLogger(logger),
		now:      time.Now,
	}
}

func (s *PurchaseService) SetClock(now func() time.Time) {
	s.now = now
}

type PurchaseRequest struct {
	AccountID int64
	BookID    int64
	Quantity  int
}

type PurchaseResult struct {
	Entry      *models.LedgerEntry `json:"transaction"`
	Balance    decimal.Decimal     `json:"balance"`
	StockCount int                 `json:"stock_count"`
}

func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (result *PurchaseResult, err error) {
	began := time.Now()
	defer func() { observe(opPurchase, began, err) }()

	if req.Quantity < 1 {
		return nil, domain.Newf(domain.CodeInvalidQuantity, "quantity must be at least 1, got %d", req.Quantity)
	}

	err = runInTx(ctx, s.store, s.logger, opPurchase, domain.CodeOutOfStock, func(tx domain.Tx) error {
		result = nil

		book, err := tx.GetBook(ctx, req.BookID)
		if err != nil {
			return lookupErr(err, "book", req.BookID)
		}
		if book.StockCount < req.Quantity {
			return domain.Newf(domain.CodeOutOfStock, "%d of %q in stock, %d requested", book.StockCount, book.Title, req.Quantity)
		}

		account, err := tx.GetAccount(ctx, req.AccountID)
		if err != nil {
			return lookupErr(err, "account", req.AccountID)
		}

		amount := book.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
		if account.Balance.LessThan(amount) {
			return domain.Newf(domain.CodeInsufficientBalance, "balance %s is below price %s",
				account.Balance.StringFixed(2), amount.StringFixed(2))
		}

		if err := tx.DecrementStock(ctx, book.ID, req.Quantity); err != nil {
			return err
		}
		balance := account.Balance.Sub(amount)
		if err := tx.UpdateBalance(ctx, account.ID, balance, account.Version); err != nil {
			return err
		}

		entry := &models.LedgerEntry{
			AccountID:     account.ID,
			Kind:          models.EntryKindPurchase,
			Amount:        amount,
			Quantity:      req.Quantity,
			Currency:      models.DefaultCurrency,
			ReferenceType: models.ReferenceBook,
			ReferenceID:   book.ID,
			Status:        models.EntryStatusCompleted,
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		result = &PurchaseResult{Entry: entry, Balance: balance, StockCount: book.StockCount - req.Quantity}
		return nil
	})
	if err != nil {
		logFailure(s.logger, opPurchase, err)
		return nil, err
	}

	s.logger.Info().
		Int64("entry_id", result.Entry.ID).
		Int64("account_id", req.AccountID).
		Int64("book_id", req.BookID).
		Int("quantity", req.Quantity).
		Str("amount", result.Entry.Amount.String()).
		Msg("purchase completed")

	publish(s.eventBus, s.logger, events.EventPurchaseCompleted, events.PurchaseEventPayload{
		EntryID:   result.Entry.ID,
		AccountID: req.AccountID,
		BookID:    req.BookID,
		Quantity:  req.Quantity,
		Amount:    result.Entry.Amount,
	})

	return result, nil
}
