package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo fetches quotes from the Yahoo Finance v8 chart endpoint, with a
// short per-symbol cache so a burst of evaluations does not hammer the
// upstream.
type Yahoo struct {
	cli     *http.Client
	baseURL string
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	quote   Quote
	fetched time.Time
}

func NewYahoo(baseURL string, timeout, ttl time.Duration) *Yahoo {
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Yahoo{
		cli:     &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		cache:   make(map[string]cachedQuote),
	}
}

func (y *Yahoo) Fetch(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Quote{}, ErrNoQuote
	}

	y.mu.RLock()
	if c, ok := y.cache[symbol]; ok && time.Since(c.fetched) < y.ttl {
		y.mu.RUnlock()
		return c.quote, nil
	}
	y.mu.RUnlock()

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1m", y.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")

	resp, err := y.cli.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("yahoo http %d", resp.StatusCode)
	}

	var raw struct {
		Chart struct {
			Result []struct {
				Meta struct {
					Symbol             string   `json:"symbol"`
					Currency           string   `json:"currency"`
					RegularMarketPrice *float64 `json:"regularMarketPrice"`
					ChartPreviousClose *float64 `json:"chartPreviousClose"`
					PreviousClose      *float64 `json:"previousClose"`
					RegularMarketTime  int64    `json:"regularMarketTime"`
				} `json:"meta"`
			} `json:"result"`
			Error *struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Quote{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if raw.Chart.Error != nil {
		return Quote{}, fmt.Errorf("yahoo: %s", raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 {
		return Quote{}, ErrNoQuote
	}

	meta := raw.Chart.Result[0].Meta
	if meta.RegularMarketPrice == nil || !isFinite(*meta.RegularMarketPrice) {
		return Quote{}, fmt.Errorf("%w: no finite price for %s", ErrNoQuote, symbol)
	}

	q := Quote{
		Symbol:   symbol,
		Price:    decimal.NewFromFloat(*meta.RegularMarketPrice),
		Currency: "USD",
		AsOf:     time.Now().UTC(),
		Source:   "yahoo",
	}
	if meta.Symbol != "" {
		q.Symbol = meta.Symbol
	}
	if meta.Currency != "" {
		q.Currency = meta.Currency
	}
	if meta.RegularMarketTime > 0 {
		q.AsOf = time.Unix(meta.RegularMarketTime, 0).UTC()
	}

	prev := meta.ChartPreviousClose
	if prev == nil {
		prev = meta.PreviousClose
	}
	if prev != nil && isFinite(*prev) {
		prevClose := decimal.NewFromFloat(*prev)
		change := q.Price.Sub(prevClose)
		q.PrevClose = &prevClose
		q.Change = &change
		if !prevClose.IsZero() {
			pct := change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(4)
			q.ChangePct = &pct
		}
	}

	y.mu.Lock()
	y.cache[symbol] = cachedQuote{quote: q, fetched: time.Now()}
	y.mu.Unlock()

	return q, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
