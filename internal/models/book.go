package models

import "github.com/shopspring/decimal"

type Book struct {
	ID          int64           `json:"id" yaml:"id"`
	Title       string          `json:"title" yaml:"title"`
	Author      string          `json:"author" yaml:"author"`
	ISBN        string          `json:"isbn,omitempty" yaml:"isbn"`
	Category    string          `json:"category,omitempty" yaml:"category"`
	Description string          `json:"description,omitempty" yaml:"description"`
	DigitalURL  string          `json:"digital_url,omitempty" yaml:"digital_url"`
	Price       decimal.Decimal `json:"price" yaml:"price"`
	StockCount  int             `json:"stock_count" yaml:"stock_count"`
}
