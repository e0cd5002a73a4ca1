package service

import (
	"context"
	"fmt"

	"libris/internal/domain"
	"libris/internal/models"
)

// CatalogService serves the read side: books, resources and account history.
type CatalogService struct {
	store domain.Store
}

func NewCatalogService(store domain.Store) *CatalogService {
	return &CatalogService{store: store}
}

func (s *CatalogService) ListBooks(ctx context.Context, filter domain.BookFilter) ([]*models.Book, error) {
	books, err := s.store.ListBooks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

func (s *CatalogService) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "book", id)
	}
	return book, nil
}

func (s *CatalogService) ListResources(ctx context.Context, filter domain.ResourceFilter) ([]*models.Resource, error) {
	resources, err := s.store.ListResources(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return resources, nil
}

func (s *CatalogService) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	resource, err := s.store.GetResource(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "resource", id)
	}
	return resource, nil
}

func (s *CatalogService) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "account", id)
	}
	return account, nil
}

// ListEntries returns the account's ledger history, newest first.
func (s *CatalogService) ListEntries(ctx context.Context, accountID int64) ([]*models.LedgerEntry, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, lookupErr(err, "account", accountID)
	}
	entries, err := s.store.ListEntries(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}
