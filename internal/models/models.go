package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors returned by the store; callers match with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

type TxType string

const (
	TxBuy  TxType = "buy"
	TxSell TxType = "sell"
)

type AlertKind string

const (
	AlertStopLoss80   AlertKind = "stop_loss_80"
	AlertTakeProfit1R AlertKind = "take_profit_1r"
)

// Holding is one open position. At most one row exists per symbol.
type Holding struct {
	ID        int64               `db:"id" json:"id"`
	Symbol    string              `db:"symbol" json:"symbol"`
	Shares    decimal.Decimal     `db:"shares" json:"shares"`
	TotalCost decimal.Decimal     `db:"total_cost" json:"total_cost"`
	AvgPrice  decimal.Decimal     `db:"avg_price" json:"avg_price"`
	Currency  string              `db:"currency" json:"currency"`
	BuyDate   *time.Time          `db:"buy_date" json:"buy_date,omitempty"`
	StopLoss  decimal.NullDecimal `db:"stop_loss" json:"stop_loss,omitempty"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt time.Time           `db:"updated_at" json:"updated_at"`
}

// Risk is the 1R distance to the stop. ok is false when no stop is set
// or the stop sits at or above the average price.
func (h Holding) Risk() (decimal.Decimal, bool) {
	if !h.StopLoss.Valid {
		return decimal.Zero, false
	}
	risk := h.AvgPrice.Sub(h.StopLoss.Decimal)
	if !risk.IsPositive() {
		return decimal.Zero, false
	}
	return risk, true
}

type CashBalance struct {
	Currency string          `db:"currency" json:"currency"`
	Amount   decimal.Decimal `db:"amount" json:"amount"`
}

// Transaction is an append-only audit row; never updated or deleted.
type Transaction struct {
	ID         string          `db:"id" json:"id"`
	Type       TxType          `db:"type" json:"type"`
	Symbol     string          `db:"symbol" json:"symbol"`
	Shares     decimal.Decimal `db:"shares" json:"shares"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Price      decimal.Decimal `db:"price" json:"price"`
	Currency   string          `db:"currency" json:"currency"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
	Notes      *string         `db:"notes" json:"notes,omitempty"`
}

type Snapshot struct {
	Holdings []Holding     `json:"holdings"`
	Cash     []CashBalance `json:"cash"`
}

// ReporterSettings is the singleton reporter configuration row.
type ReporterSettings struct {
	Enabled       bool       `db:"enabled" json:"enabled"`
	Destination   string     `db:"email_address" json:"email_address"`
	SMTPHost      string     `db:"smtp_host" json:"smtp_host"`
	SMTPPort      int        `db:"smtp_port" json:"smtp_port"`
	SMTPUsername  string     `db:"smtp_username" json:"smtp_username"`
	SMTPPassword  string     `db:"smtp_password" json:"-"`
	FromAddress   string     `db:"from_address" json:"from_address"`
	CheckInterval int        `db:"check_interval" json:"check_interval"`
	LastRun       *time.Time `db:"last_run" json:"last_run,omitempty"`
}
