package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	ID        int64           `json:"id" yaml:"id"`
	Name      string          `json:"name" yaml:"name"`
	Role      string          `json:"role" yaml:"role"`
	Balance   decimal.Decimal `json:"balance" yaml:"balance"`
	Version   int64           `json:"version" yaml:"-"`
	CreatedAt time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt time.Time       `json:"updated_at" yaml:"-"`
}

func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}
