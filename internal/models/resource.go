package models

import "github.com/shopspring/decimal"

type Resource struct {
	ID         int64           `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	Type       string          `json:"type" yaml:"type"` // room, seat, equipment
	Capacity   int             `json:"capacity" yaml:"capacity"`
	Features   []string        `json:"features,omitempty" yaml:"features"`
	HourlyRate decimal.Decimal `json:"hourly_rate" yaml:"hourly_rate"`
	OpenHour   string          `json:"open_hour" yaml:"open_hour"`
	CloseHour  string          `json:"close_hour" yaml:"close_hour"`
}
