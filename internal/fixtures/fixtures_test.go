package fixtures

import (
	"os"
	"path/filepath"
	"testing"

	"libris/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	set := Default()

	require.Len(t, set.Books, 3)
	require.Len(t, set.Resources, 3)
	require.Len(t, set.Accounts, 2)

	assert.Equal(t, "1984", set.Books[2].Title)
	assert.True(t, set.Books[0].Price.Equal(decimal.RequireFromString("42.99")))
	assert.True(t, set.Resources[0].HourlyRate.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, "22:00", set.Resources[0].CloseHour)
	assert.Equal(t, models.RoleAdmin, set.Accounts[1].Role)
	assert.True(t, set.Accounts[0].Balance.Equal(decimal.NewFromInt(100)))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `
accounts:
  - id: 7
    name: Reader
    balance: "5.50"
books:
  - id: 1
    title: Dune
    price: 10
    stock_count: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	require.Len(t, set.Accounts, 1)
	assert.Equal(t, models.RoleMember, set.Accounts[0].Role)
	assert.Equal(t, "5.5", set.Accounts[0].Balance.String())

	t.Run("EmptyPathUsesDefault", func(t *testing.T) {
		set, err := Load("")
		require.NoError(t, err)
		assert.Len(t, set.Books, 3)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "duplicate book", yaml: "books: [{id: 1, title: a}, {id: 1, title: b}]", wantErr: true},
		{name: "negative balance", yaml: "accounts: [{id: 1, balance: -1}]", wantErr: true},
		{name: "missing hours", yaml: "resources: [{id: 1, name: r}]", wantErr: true},
		{name: "negative stock", yaml: "books: [{id: 1, title: a, stock_count: -1}]", wantErr: true},
		{name: "ok", yaml: "books: [{id: 1, title: a, price: 1, stock_count: 0}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
