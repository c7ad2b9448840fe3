package database

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"portwatch/internal/models"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// each sqlite :memory: connection is its own database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := New(db, logger)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestRecordBuy_CreatesHoldingAndTransaction(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	h, err := s.RecordBuy(ctx, BuyInput{
		Symbol:   "aapl",
		Shares:   decPtr("10"),
		AvgPrice: dec("20"),
		Currency: "usd",
		StopLoss: decPtr("15"),
	})
	if err != nil {
		t.Fatalf("record buy failed: %v", err)
	}
	if h.Symbol != "AAPL" {
		t.Fatalf("expected symbol AAPL, got %s", h.Symbol)
	}
	if !h.Shares.IsPositive() || !h.TotalCost.IsPositive() || !h.AvgPrice.IsPositive() {
		t.Fatalf("expected positive numerics, got %v", h)
	}
	if !h.Shares.Equal(dec("10")) || !h.TotalCost.Equal(dec("200")) {
		t.Fatalf("expected 10 shares at total cost 200, got %s / %s", h.Shares, h.TotalCost)
	}
	if h.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", h.Currency)
	}
	if !h.StopLoss.Valid || !h.StopLoss.Decimal.Equal(dec("15")) {
		t.Fatalf("expected stop loss 15, got %v", h.StopLoss)
	}
	if h.BuyDate == nil {
		t.Fatalf("expected buy date to default to now")
	}

	txs, err := s.ListTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	tx := txs[0]
	if tx.Type != models.TxBuy || tx.Symbol != "AAPL" || !tx.Shares.Equal(dec("10")) || !tx.Price.Equal(dec("20")) || tx.Currency != "USD" {
		t.Fatalf("unexpected buy transaction: %+v", tx)
	}
}

func TestRecordBuy_AmountModeResolvesShares(t *testing.T) {
	s := setupStore(t)

	h, err := s.RecordBuy(context.Background(), BuyInput{
		Symbol:      "MSFT",
		Mode:        "amount",
		TotalAmount: decPtr("1000"),
		AvgPrice:    dec("3"),
	})
	if err != nil {
		t.Fatalf("record buy failed: %v", err)
	}
	// 1000 / 3 rounded to 4 decimal places
	if !h.Shares.Equal(dec("333.3333")) {
		t.Fatalf("expected 333.3333 shares, got %s", h.Shares)
	}
	if !h.TotalCost.Equal(dec("1000")) {
		t.Fatalf("expected total cost 1000, got %s", h.TotalCost)
	}
}

func TestRecordBuy_ReplacesWholesale(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first, err := s.RecordBuy(ctx, BuyInput{Symbol: "TSLA", Shares: decPtr("10"), AvgPrice: dec("100")})
	if err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	second, err := s.RecordBuy(ctx, BuyInput{Symbol: "TSLA", Shares: decPtr("3"), AvgPrice: dec("50")})
	if err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected stable holding id across replace, got %d != %d", second.ID, first.ID)
	}
	if !second.Shares.Equal(dec("3")) || !second.AvgPrice.Equal(dec("50")) || !second.TotalCost.Equal(dec("150")) {
		t.Fatalf("expected wholesale replace, not averaging: %+v", second)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snap.Holdings) != 1 {
		t.Fatalf("expected 1 holding after rebuy, got %d", len(snap.Holdings))
	}

	txs, err := s.ListTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 buy transactions, got %d", len(txs))
	}
}

func TestRecordBuy_InvalidInput(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   BuyInput
	}{
		{"zero avg price", BuyInput{Symbol: "AAPL", Shares: decPtr("10"), AvgPrice: dec("0")}},
		{"negative shares", BuyInput{Symbol: "AAPL", Shares: decPtr("-1"), AvgPrice: dec("20")}},
		{"zero amount", BuyInput{Symbol: "AAPL", Mode: "amount", TotalAmount: decPtr("0"), AvgPrice: dec("20")}},
		{"no size at all", BuyInput{Symbol: "AAPL", AvgPrice: dec("20")}},
		{"missing symbol", BuyInput{Shares: decPtr("10"), AvgPrice: dec("20")}},
	}
	for _, tc := range cases {
		if _, err := s.RecordBuy(ctx, tc.in); !errors.Is(err, models.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}

	txs, _ := s.ListTransactions(ctx, 10)
	if len(txs) != 0 {
		t.Fatalf("expected no transactions after rejected buys, got %d", len(txs))
	}
}

func TestSellHolding_ProceedsAndCash(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.RecordBuy(ctx, BuyInput{Symbol: "NVDA", Shares: decPtr("10"), AvgPrice: dec("20")}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	res, err := s.SellHolding(ctx, "NVDA", dec("25"), nil)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if !res.Proceeds.Equal(dec("250")) {
		t.Fatalf("expected proceeds 250, got %s", res.Proceeds)
	}
	if res.Currency != "USD" {
		t.Fatalf("expected USD proceeds, got %s", res.Currency)
	}

	if _, err := s.HoldingBySymbol(ctx, "NVDA"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected holding deleted, got %v", err)
	}

	cash, err := s.CashBalances(ctx)
	if err != nil {
		t.Fatalf("cash balances failed: %v", err)
	}
	if len(cash) != 1 || cash[0].Currency != "USD" || !cash[0].Amount.Equal(dec("250")) {
		t.Fatalf("expected USD cash 250, got %+v", cash)
	}

	txs, _ := s.ListTransactions(ctx, 10)
	if len(txs) != 2 || txs[0].Type != models.TxSell {
		t.Fatalf("expected sell transaction on top, got %+v", txs)
	}
	if !txs[0].Amount.Equal(dec("250")) || !txs[0].Price.Equal(dec("25")) {
		t.Fatalf("unexpected sell transaction: %+v", txs[0])
	}
}

func TestSellHolding_CashAccumulatesPerCurrency(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, _ = s.RecordBuy(ctx, BuyInput{Symbol: "AAA", Shares: decPtr("1"), AvgPrice: dec("10")})
	_, _ = s.RecordBuy(ctx, BuyInput{Symbol: "BBB", Shares: decPtr("2"), AvgPrice: dec("10")})

	if _, err := s.SellHolding(ctx, "AAA", dec("10"), nil); err != nil {
		t.Fatalf("sell AAA failed: %v", err)
	}
	if _, err := s.SellHolding(ctx, "BBB", dec("10"), nil); err != nil {
		t.Fatalf("sell BBB failed: %v", err)
	}

	cash, _ := s.CashBalances(ctx)
	if len(cash) != 1 || !cash[0].Amount.Equal(dec("30")) {
		t.Fatalf("expected single USD balance of 30, got %+v", cash)
	}
}

func TestSellHolding_Errors(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.SellHolding(ctx, "GHOST", dec("10"), nil); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, _ = s.RecordBuy(ctx, BuyInput{Symbol: "AAPL", Shares: decPtr("1"), AvgPrice: dec("10")})
	if _, err := s.SellHolding(ctx, "AAPL", dec("0"), nil); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero price, got %v", err)
	}
	// rejected sell must leave the holding in place
	if _, err := s.HoldingBySymbol(ctx, "AAPL"); err != nil {
		t.Fatalf("holding should survive a rejected sell: %v", err)
	}
}

func TestUpdateHolding_PartialEdit(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.RecordBuy(ctx, BuyInput{Symbol: "AMZN", Shares: decPtr("5"), AvgPrice: dec("100")})
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	h, err := s.UpdateHolding(ctx, "AMZN", HoldingUpdate{StopLoss: decPtr("90"), StopLossSet: true})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !h.StopLoss.Valid || !h.StopLoss.Decimal.Equal(dec("90")) {
		t.Fatalf("expected stop 90, got %v", h.StopLoss)
	}
	if !h.Shares.Equal(dec("5")) || !h.AvgPrice.Equal(dec("100")) {
		t.Fatalf("untouched fields changed: %+v", h)
	}

	// clearing the stop
	h, err = s.UpdateHolding(ctx, "AMZN", HoldingUpdate{StopLossSet: true})
	if err != nil {
		t.Fatalf("clear stop failed: %v", err)
	}
	if h.StopLoss.Valid {
		t.Fatalf("expected stop cleared, got %v", h.StopLoss)
	}

	// metadata edits never append transactions
	txs, _ := s.ListTransactions(ctx, 10)
	if len(txs) != 1 {
		t.Fatalf("expected only the buy transaction, got %d", len(txs))
	}
}

func TestUpdateHolding_Errors(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.UpdateHolding(ctx, "GHOST", HoldingUpdate{}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, _ = s.RecordBuy(ctx, BuyInput{Symbol: "AAPL", Shares: decPtr("1"), AvgPrice: dec("10")})
	if _, err := s.UpdateHolding(ctx, "AAPL", HoldingUpdate{Shares: decPtr("0")}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero shares, got %v", err)
	}
}

func TestListAlertEligible(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// stop below avg: eligible
	_, _ = s.RecordBuy(ctx, BuyInput{Symbol: "BBB", Shares: decPtr("1"), AvgPrice: dec("100"), StopLoss: decPtr("90")})
	// stop above avg: ignored
	_, _ = s.RecordBuy(ctx, BuyInput{Symbol: "CCC", Shares: decPtr("1"), AvgPrice: dec("100"), StopLoss: decPtr("110")})
	// no stop: ignored
	_, _ = s.RecordBuy(ctx, BuyInput{Symbol: "AAA", Shares: decPtr("1"), AvgPrice: dec("100")})

	eligible, err := s.ListAlertEligible(ctx)
	if err != nil {
		t.Fatalf("list eligible failed: %v", err)
	}
	if len(eligible) != 1 || eligible[0].Symbol != "BBB" {
		t.Fatalf("expected only BBB eligible, got %+v", eligible)
	}
}

func TestSnapshot_SortedBySymbol(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, sym := range []string{"ZZZ", "MMM", "AAA"} {
		if _, err := s.RecordBuy(ctx, BuyInput{Symbol: sym, Shares: decPtr("1"), AvgPrice: dec("10")}); err != nil {
			t.Fatalf("buy %s failed: %v", sym, err)
		}
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	want := []string{"AAA", "MMM", "ZZZ"}
	if len(snap.Holdings) != len(want) {
		t.Fatalf("expected %d holdings, got %d", len(want), len(snap.Holdings))
	}
	for i, sym := range want {
		if snap.Holdings[i].Symbol != sym {
			t.Fatalf("expected %s at position %d, got %s", sym, i, snap.Holdings[i].Symbol)
		}
	}
}

func TestRecordBuy_ExplicitBuyDateStored(t *testing.T) {
	s := setupStore(t)

	bought := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	h, err := s.RecordBuy(context.Background(), BuyInput{
		Symbol:   "IBM",
		Shares:   decPtr("2"),
		AvgPrice: dec("150"),
		BuyDate:  &bought,
	})
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if h.BuyDate == nil || !h.BuyDate.Equal(bought) {
		t.Fatalf("expected buy date %v, got %v", bought, h.BuyDate)
	}
}
