package database

import (
	"time"

	"github.com/shopspring/decimal"

	"portwatch/internal/models"
)

// BuyInput resolves the position size from either Shares or TotalAmount.
// Mode "amount" forces the TotalAmount path even when Shares is present,
// mirroring the buy form's two entry modes.
type BuyInput struct {
	Symbol      string
	Mode        string
	Shares      *decimal.Decimal
	TotalAmount *decimal.Decimal
	AvgPrice    decimal.Decimal
	Currency    string
	BuyDate     *time.Time
	StopLoss    *decimal.Decimal
}

// HoldingUpdate is a partial edit. Nil pointers leave the field alone.
// BuyDateSet/StopLossSet distinguish "clear this field" (flag true,
// pointer nil) from "leave untouched" (flag false).
type HoldingUpdate struct {
	Shares      *decimal.Decimal
	TotalCost   *decimal.Decimal
	AvgPrice    *decimal.Decimal
	Currency    *string
	BuyDate     *time.Time
	BuyDateSet  bool
	StopLoss    *decimal.Decimal
	StopLossSet bool
}

type SellResult struct {
	Proceeds decimal.Decimal `json:"proceeds"`
	Currency string          `json:"currency"`
	Removed  models.Holding  `json:"removed_holding"`
}
