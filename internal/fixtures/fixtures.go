// Package fixtures loads seed data for accounts, resources and books.
package fixtures

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"libris/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Set struct {
	Accounts  []models.Account  `yaml:"accounts"`
	Resources []models.Resource `yaml:"resources"`
	Books     []models.Book     `yaml:"books"`
}

// Default returns the built-in demo data set.
func Default() *Set {
	set, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("fixtures: invalid default set: %v", err))
	}
	return set
}

// Load reads a fixture file. An empty path yields the default set.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	for i := range set.Accounts {
		if set.Accounts[i].Role == "" {
			set.Accounts[i].Role = models.RoleMember
		}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *Set) Validate() error {
	accountIDs := make(map[int64]bool)
	for _, a := range s.Accounts {
		if a.ID <= 0 || accountIDs[a.ID] {
			return fmt.Errorf("account '%s' has invalid or duplicate id %d", a.Name, a.ID)
		}
		if a.Balance.IsNegative() {
			return fmt.Errorf("account %d has negative balance", a.ID)
		}
		accountIDs[a.ID] = true
	}

	resourceIDs := make(map[int64]bool)
	for _, r := range s.Resources {
		if r.ID <= 0 || resourceIDs[r.ID] {
			return fmt.Errorf("resource '%s' has invalid or duplicate id %d", r.Name, r.ID)
		}
		if r.HourlyRate.IsNegative() {
			return fmt.Errorf("resource %d has negative hourly rate", r.ID)
		}
		if r.OpenHour == "" || r.CloseHour == "" {
			return fmt.Errorf("resource %d needs open_hour and close_hour", r.ID)
		}
		resourceIDs[r.ID] = true
	}

	bookIDs := make(map[int64]bool)
	for _, b := range s.Books {
		if b.ID <= 0 || bookIDs[b.ID] {
			return fmt.Errorf("book '%s' has invalid or duplicate id %d", b.Title, b.ID)
		}
		if b.Price.IsNegative() || b.StockCount < 0 {
			return errors.New("book price and stock_count must not be negative")
		}
		bookIDs[b.ID] = true
	}
	return nil
}
