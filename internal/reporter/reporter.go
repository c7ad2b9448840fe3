package reporter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"portwatch/internal/database"
	"portwatch/internal/models"
	"portwatch/internal/quotes"
)

const (
	// minInterval is the floor applied to the configured poll interval.
	minInterval = 30 * time.Second
	// defaultCooldown suppresses repeat notifications of the same kind
	// for the same holding.
	defaultCooldown = time.Hour
)

// Reporter owns the single periodic alert timer. Reschedule rebuilds the
// timer from the persisted settings; ledger mutations call it so the
// schedule always reflects current state. Cycle errors are logged, never
// surfaced: progress is observable only through last_run.
type Reporter struct {
	store    *database.Store
	quotes   quotes.Source
	notifier NotifierFactory
	log      *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc

	inFlight atomic.Bool

	now      func() time.Time
	cooldown time.Duration
}

func New(store *database.Store, src quotes.Source, factory NotifierFactory, log *logrus.Logger) *Reporter {
	return &Reporter{
		store:    store,
		quotes:   src,
		notifier: factory,
		log:      log,
		now:      time.Now,
		cooldown: defaultCooldown,
	}
}

// Reschedule cancels any armed timer, then re-arms it from the settings
// row. Idle when the reporter is disabled or the destination address or
// SMTP host is missing. The first cycle fires immediately rather than
// waiting a full period. Safe to call concurrently with a running cycle:
// only the next timer is replaced.
func (r *Reporter) Reschedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()

	settings, err := r.store.ReporterSettings(context.Background())
	if err != nil {
		r.log.Warnf("reporter: read settings: %v", err)
		return
	}
	if !settings.Enabled || strings.TrimSpace(settings.Destination) == "" || strings.TrimSpace(settings.SMTPHost) == "" {
		return
	}

	period := time.Duration(settings.CheckInterval) * time.Second
	if period < minInterval {
		period = minInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx, period)
}

// Stop disarms the timer. A cycle already in progress runs to
// completion.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Reporter) stopLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Reporter) loop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	r.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Both channels can be ready at once; a superseded timer
			// must not run one last cycle.
			if ctx.Err() != nil {
				return
			}
			r.tick()
		}
	}
}

// tick runs one cycle unless the previous one is still in flight, in
// which case the tick is dropped: the next one is at most a period away
// and a cycle always reads fresh state.
func (r *Reporter) tick() {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.log.Warn("reporter: previous cycle still running, dropping tick")
		return
	}
	defer r.inFlight.Store(false)

	if err := r.RunCycle(context.Background()); err != nil {
		r.log.Errorf("reporter: cycle failed: %v", err)
	}
}

// RunCycle performs one full evaluation pass. Per-holding quote
// failures skip that holding only; a notifier that cannot be built
// aborts the pass. last_run advances in every case that reaches the
// settings successfully.
func (r *Reporter) RunCycle(ctx context.Context) error {
	settings, err := r.store.ReporterSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.Enabled || strings.TrimSpace(settings.Destination) == "" || strings.TrimSpace(settings.SMTPHost) == "" {
		return nil
	}

	holdings, err := r.store.ListAlertEligible(ctx)
	if err != nil {
		return err
	}
	if len(holdings) == 0 {
		return r.store.SetLastRun(ctx, r.now().UTC())
	}

	notifier, err := r.notifier(settings)
	if err != nil {
		r.log.Errorf("reporter: notifier unavailable: %v", err)
		return r.store.SetLastRun(ctx, r.now().UTC())
	}

	for _, h := range holdings {
		quote, err := r.quotes.Fetch(ctx, h.Symbol)
		if err != nil {
			r.log.Warnf("reporter: quote %s: %v", h.Symbol, err)
			continue
		}
		r.evaluateHolding(ctx, settings, notifier, h, quote)
	}

	return r.store.SetLastRun(ctx, r.now().UTC())
}

func (r *Reporter) evaluateHolding(ctx context.Context, settings models.ReporterSettings, notifier Notifier, h models.Holding, quote quotes.Quote) {
	for _, kind := range Evaluate(h, quote.Price) {
		last, seen, err := r.store.LastAlertAt(ctx, h.ID, kind)
		if err != nil {
			r.log.Warnf("reporter: alert log %s/%s: %v", h.Symbol, kind, err)
			continue
		}
		if seen && r.now().Sub(last) < r.cooldown {
			continue
		}

		msg := buildMessage(settings, h, quote, kind)
		if err := notifier.Send(ctx, msg); err != nil {
			// Not recorded as sent, so the next eligible cycle retries.
			r.log.Errorf("reporter: send %s/%s: %v", h.Symbol, kind, err)
			continue
		}
		if err := r.store.RecordAlert(ctx, h.ID, kind, r.now().UTC()); err != nil {
			r.log.Warnf("reporter: record alert %s/%s: %v", h.Symbol, kind, err)
		}
	}
}

func buildMessage(settings models.ReporterSettings, h models.Holding, quote quotes.Quote, kind models.AlertKind) Message {
	risk, _ := h.Risk()

	title := "Stop loss alert"
	arrow := "↓"
	guidance := "Price has retraced 80% of the distance to the stop. Review the position."
	if kind == models.AlertTakeProfit1R {
		title = "Profit target alert"
		arrow = "↑"
		guidance = "Price reached the 1R profit target. Consider taking profit."
	}

	from := settings.FromAddress
	if from == "" {
		from = settings.SMTPUsername
	}
	if from == "" {
		from = settings.Destination
	}

	lines := []string{
		fmt.Sprintf("Symbol: %s", h.Symbol),
		fmt.Sprintf("Current price: %s", formatMoney(quote.Price, quote.Currency)),
		fmt.Sprintf("Avg buy: %s", formatMoney(h.AvgPrice, quote.Currency)),
		fmt.Sprintf("Stop loss: %s", formatMoney(h.StopLoss.Decimal, quote.Currency)),
		fmt.Sprintf("Risk (1R): %s", formatMoney(risk, quote.Currency)),
		"",
		guidance,
		"",
		fmt.Sprintf("Quote as of: %s", quote.AsOf.Format(time.RFC3339)),
	}

	return Message{
		From:    from,
		To:      settings.Destination,
		Subject: fmt.Sprintf("%s: %s %s", title, h.Symbol, arrow),
		Body:    strings.Join(lines, "\n"),
	}
}
