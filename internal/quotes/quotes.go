package quotes

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoQuote = errors.New("quotes: no result")

// Quote is the latest known price for a symbol.
type Quote struct {
	Symbol    string           `json:"symbol"`
	Price     decimal.Decimal  `json:"price"`
	Currency  string           `json:"currency"`
	AsOf      time.Time        `json:"as_of"`
	PrevClose *decimal.Decimal `json:"prev_close,omitempty"`
	Change    *decimal.Decimal `json:"change,omitempty"`
	ChangePct *decimal.Decimal `json:"change_pct,omitempty"`
	Source    string           `json:"source"`
}

// Source resolves a ticker symbol to a current quote.
type Source interface {
	Fetch(ctx context.Context, symbol string) (Quote, error)
}
