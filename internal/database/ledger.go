package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"portwatch/internal/models"
)

const holdingColumns = `id, symbol, shares, total_cost, avg_price, currency, buy_date, stop_loss, created_at, updated_at`

// RecordBuy opens or replaces the position for a symbol. An existing
// holding is overwritten wholesale, not averaged; a buy transaction is
// appended either way. Shares are rounded to 4 decimal places and cost
// to 2 before storage.
func (s *Store) RecordBuy(ctx context.Context, in BuyInput) (models.Holding, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return models.Holding{}, fmt.Errorf("%w: symbol is required", models.ErrInvalidInput)
	}
	if !in.AvgPrice.IsPositive() {
		return models.Holding{}, fmt.Errorf("%w: average price must be positive", models.ErrInvalidInput)
	}

	shares, totalCost := in.Shares, in.TotalAmount
	switch {
	case (in.Mode == "amount" || shares == nil) && totalCost != nil:
		if !totalCost.IsPositive() {
			return models.Holding{}, fmt.Errorf("%w: total amount must be positive", models.ErrInvalidInput)
		}
		v := totalCost.Div(in.AvgPrice)
		shares = &v
	case shares != nil:
		if !shares.IsPositive() {
			return models.Holding{}, fmt.Errorf("%w: share count must be positive", models.ErrInvalidInput)
		}
		v := shares.Mul(in.AvgPrice)
		totalCost = &v
	default:
		return models.Holding{}, fmt.Errorf("%w: share count or total amount is required", models.ErrInvalidInput)
	}

	roundedShares := shares.Round(4)
	roundedCost := totalCost.Round(2)
	if !roundedShares.IsPositive() || !roundedCost.IsPositive() {
		return models.Holding{}, fmt.Errorf("%w: position size resolves to zero", models.ErrInvalidInput)
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "USD"
	}
	now := time.Now().UTC()
	buyDate := in.BuyDate
	if buyDate == nil {
		buyDate = &now
	}
	var stop decimal.NullDecimal
	if in.StopLoss != nil {
		stop = decimal.NullDecimal{Decimal: *in.StopLoss, Valid: true}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Holding{}, fmt.Errorf("begin buy: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	err = tx.GetContext(ctx, &existingID, s.db.Rebind(`SELECT id FROM holdings WHERE symbol = ?`), symbol)
	switch {
	case err == nil:
		q := s.db.Rebind(`UPDATE holdings SET shares = ?, total_cost = ?, avg_price = ?, currency = ?, buy_date = ?, stop_loss = ?, updated_at = ? WHERE id = ?`)
		_, err = tx.ExecContext(ctx, q, roundedShares, roundedCost, in.AvgPrice, currency, buyDate, stop, now, existingID)
	case errors.Is(err, sql.ErrNoRows):
		q := s.db.Rebind(`INSERT INTO holdings (symbol, shares, total_cost, avg_price, currency, buy_date, stop_loss, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, q, symbol, roundedShares, roundedCost, in.AvgPrice, currency, buyDate, stop, now, now)
	}
	if err != nil {
		return models.Holding{}, fmt.Errorf("write holding: %w", err)
	}

	if err := s.appendTransaction(ctx, tx, models.Transaction{
		ID:         uuid.NewString(),
		Type:       models.TxBuy,
		Symbol:     symbol,
		Shares:     roundedShares,
		Amount:     roundedCost,
		Price:      in.AvgPrice,
		Currency:   currency,
		OccurredAt: now,
	}); err != nil {
		return models.Holding{}, err
	}

	var stored models.Holding
	if err := tx.GetContext(ctx, &stored, s.db.Rebind(`SELECT `+holdingColumns+` FROM holdings WHERE symbol = ?`), symbol); err != nil {
		return models.Holding{}, fmt.Errorf("reload holding: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Holding{}, fmt.Errorf("commit buy: %w", err)
	}
	return stored, nil
}

// UpdateHolding edits fields of an open position in place. It is a pure
// metadata edit: no transaction row is appended and nothing is rounded
// or recomputed, so avgPrice may drift from totalCost/shares.
func (s *Store) UpdateHolding(ctx context.Context, symbol string, upd HoldingUpdate) (models.Holding, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if upd.Shares != nil && !upd.Shares.IsPositive() {
		return models.Holding{}, fmt.Errorf("%w: share count must be positive", models.ErrInvalidInput)
	}
	if upd.TotalCost != nil && !upd.TotalCost.IsPositive() {
		return models.Holding{}, fmt.Errorf("%w: total cost must be positive", models.ErrInvalidInput)
	}
	if upd.AvgPrice != nil && !upd.AvgPrice.IsPositive() {
		return models.Holding{}, fmt.Errorf("%w: average price must be positive", models.ErrInvalidInput)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Holding{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var h models.Holding
	err = tx.GetContext(ctx, &h, s.db.Rebind(`SELECT `+holdingColumns+` FROM holdings WHERE symbol = ?`), symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Holding{}, fmt.Errorf("%w: no open holding for %s", models.ErrNotFound, symbol)
	}
	if err != nil {
		return models.Holding{}, fmt.Errorf("load holding: %w", err)
	}

	if upd.Shares != nil {
		h.Shares = *upd.Shares
	}
	if upd.TotalCost != nil {
		h.TotalCost = *upd.TotalCost
	}
	if upd.AvgPrice != nil {
		h.AvgPrice = *upd.AvgPrice
	}
	if upd.Currency != nil {
		h.Currency = strings.ToUpper(strings.TrimSpace(*upd.Currency))
	}
	if upd.BuyDateSet {
		h.BuyDate = upd.BuyDate
	}
	if upd.StopLossSet {
		if upd.StopLoss != nil {
			h.StopLoss = decimal.NullDecimal{Decimal: *upd.StopLoss, Valid: true}
		} else {
			h.StopLoss = decimal.NullDecimal{}
		}
	}
	h.UpdatedAt = time.Now().UTC()

	q := s.db.Rebind(`UPDATE holdings SET shares = ?, total_cost = ?, avg_price = ?, currency = ?, buy_date = ?, stop_loss = ?, updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, q, h.Shares, h.TotalCost, h.AvgPrice, h.Currency, h.BuyDate, h.StopLoss, h.UpdatedAt, h.ID); err != nil {
		return models.Holding{}, fmt.Errorf("update holding: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Holding{}, fmt.Errorf("commit update: %w", err)
	}
	return h, nil
}

// SellHolding closes the full position at the given price. The holding
// delete, the sell transaction and the cash credit commit atomically.
func (s *Store) SellHolding(ctx context.Context, symbol string, sellPrice decimal.Decimal, sellDate *time.Time) (SellResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !sellPrice.IsPositive() {
		return SellResult{}, fmt.Errorf("%w: sale price must be positive", models.ErrInvalidInput)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return SellResult{}, fmt.Errorf("begin sell: %w", err)
	}
	defer tx.Rollback()

	var h models.Holding
	err = tx.GetContext(ctx, &h, s.db.Rebind(`SELECT `+holdingColumns+` FROM holdings WHERE symbol = ?`), symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return SellResult{}, fmt.Errorf("%w: no open holding for %s", models.ErrNotFound, symbol)
	}
	if err != nil {
		return SellResult{}, fmt.Errorf("load holding: %w", err)
	}

	proceeds := sellPrice.Mul(h.Shares).Round(2)
	occurredAt := time.Now().UTC()
	if sellDate != nil {
		occurredAt = sellDate.UTC()
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM holdings WHERE id = ?`), h.ID); err != nil {
		return SellResult{}, fmt.Errorf("delete holding: %w", err)
	}

	if err := s.appendTransaction(ctx, tx, models.Transaction{
		ID:         uuid.NewString(),
		Type:       models.TxSell,
		Symbol:     h.Symbol,
		Shares:     h.Shares,
		Amount:     proceeds,
		Price:      sellPrice,
		Currency:   h.Currency,
		OccurredAt: occurredAt,
	}); err != nil {
		return SellResult{}, err
	}

	if err := s.creditCash(ctx, tx, h.Currency, proceeds); err != nil {
		return SellResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SellResult{}, fmt.Errorf("commit sell: %w", err)
	}
	return SellResult{Proceeds: proceeds, Currency: h.Currency, Removed: h}, nil
}

// creditCash adds delta to the currency's balance, creating the row on
// first credit. Read-modify-write inside the caller's transaction.
func (s *Store) creditCash(ctx context.Context, tx *sqlx.Tx, currency string, delta decimal.Decimal) error {
	var amount decimal.Decimal
	err := tx.GetContext(ctx, &amount, s.db.Rebind(`SELECT amount FROM cash_balances WHERE currency = ?`), currency)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO cash_balances (currency, amount) VALUES (?, ?)`), currency, delta)
	case err == nil:
		_, err = tx.ExecContext(ctx, s.db.Rebind(`UPDATE cash_balances SET amount = ? WHERE currency = ?`), amount.Add(delta), currency)
	}
	if err != nil {
		return fmt.Errorf("credit cash %s: %w", currency, err)
	}
	return nil
}

func (s *Store) appendTransaction(ctx context.Context, tx sqlx.ExecerContext, t models.Transaction) error {
	q := s.db.Rebind(`INSERT INTO transactions (id, type, symbol, shares, amount, price, currency, occurred_at, notes) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, q, t.ID, t.Type, t.Symbol, t.Shares, t.Amount, t.Price, t.Currency, t.OccurredAt, t.Notes); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *Store) HoldingBySymbol(ctx context.Context, symbol string) (models.Holding, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var h models.Holding
	err := s.db.GetContext(ctx, &h, s.db.Rebind(`SELECT `+holdingColumns+` FROM holdings WHERE symbol = ?`), symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Holding{}, fmt.Errorf("%w: no open holding for %s", models.ErrNotFound, symbol)
	}
	if err != nil {
		return models.Holding{}, fmt.Errorf("load holding: %w", err)
	}
	return h, nil
}

// Snapshot returns all open holdings (symbol ascending) and cash rows.
func (s *Store) Snapshot(ctx context.Context) (models.Snapshot, error) {
	snap := models.Snapshot{Holdings: []models.Holding{}, Cash: []models.CashBalance{}}

	rows, err := s.db.QueryxContext(ctx, `SELECT `+holdingColumns+` FROM holdings ORDER BY symbol ASC`)
	if err != nil {
		return snap, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h models.Holding
		if err := rows.StructScan(&h); err != nil {
			s.log.Warnf("scan holding failed: %v", err)
			continue
		}
		snap.Holdings = append(snap.Holdings, h)
	}

	cash, err := s.CashBalances(ctx)
	if err != nil {
		return snap, err
	}
	snap.Cash = cash
	return snap, nil
}

func (s *Store) CashBalances(ctx context.Context) ([]models.CashBalance, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT currency, amount FROM cash_balances ORDER BY currency ASC`)
	if err != nil {
		return nil, fmt.Errorf("list cash balances: %w", err)
	}
	defer rows.Close()
	res := []models.CashBalance{}
	for rows.Next() {
		var c models.CashBalance
		if err := rows.StructScan(&c); err != nil {
			s.log.Warnf("scan cash balance failed: %v", err)
			continue
		}
		res = append(res, c)
	}
	return res, nil
}

// ListAlertEligible returns holdings with a stop below the average
// price, the only positions the reporter evaluates.
func (s *Store) ListAlertEligible(ctx context.Context) ([]models.Holding, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT `+holdingColumns+` FROM holdings WHERE stop_loss IS NOT NULL AND avg_price > stop_loss ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("list alert-eligible holdings: %w", err)
	}
	defer rows.Close()
	res := []models.Holding{}
	for rows.Next() {
		var h models.Holding
		if err := rows.StructScan(&h); err != nil {
			s.log.Warnf("scan holding failed: %v", err)
			continue
		}
		res = append(res, h)
	}
	return res, nil
}

// ListTransactions returns the newest audit rows first.
func (s *Store) ListTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.Rebind(`SELECT id, type, symbol, shares, amount, price, currency, occurred_at, notes FROM transactions ORDER BY occurred_at DESC LIMIT ?`)
	rows, err := s.db.QueryxContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	res := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.StructScan(&t); err != nil {
			s.log.Warnf("scan transaction failed: %v", err)
			continue
		}
		res = append(res, t)
	}
	return res, nil
}
