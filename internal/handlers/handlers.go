package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"portwatch/internal/database"
	"portwatch/internal/models"
	"portwatch/internal/quotes"
)

// Rescheduler is the slice of the reporter the handlers need: every
// ledger mutation must rebuild the alert timer.
type Rescheduler interface {
	Reschedule()
}

type Handler struct {
	store    *database.Store
	quotes   quotes.Source
	reporter Rescheduler
	log      *logrus.Logger
}

func NewHandler(s *database.Store, q quotes.Source, r Rescheduler, log *logrus.Logger) *Handler {
	return &Handler{store: s, quotes: q, reporter: r, log: log}
}

// Register wires all routes onto the router.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.GET("/portfolio", h.GetPortfolio)
	r.POST("/portfolio/buy", h.PostBuy)
	r.PATCH("/portfolio/:symbol", h.PatchHolding)
	r.POST("/portfolio/:symbol/sell", h.PostSell)
	r.GET("/portfolio/:symbol/quote", h.GetQuote)
	r.GET("/transactions", h.GetTransactions)
	r.GET("/reporter/settings", h.GetReporterSettings)
	r.PUT("/reporter/settings", h.PutReporterSettings)
}

type BuyRequest struct {
	Symbol      string           `json:"symbol" binding:"required"`
	Mode        string           `json:"mode"`
	Shares      *decimal.Decimal `json:"shares"`
	TotalAmount *decimal.Decimal `json:"total_amount"`
	AvgPrice    decimal.Decimal  `json:"avg_price"`
	Currency    string           `json:"currency"`
	BuyDate     *time.Time       `json:"buy_date"`
	StopLoss    *decimal.Decimal `json:"stop_loss"`
}

func (h *Handler) PostBuy(c *gin.Context) {
	var req BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid buy body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	holding, err := h.store.RecordBuy(c.Request.Context(), database.BuyInput{
		Symbol:      req.Symbol,
		Mode:        req.Mode,
		Shares:      req.Shares,
		TotalAmount: req.TotalAmount,
		AvgPrice:    req.AvgPrice,
		Currency:    req.Currency,
		BuyDate:     req.BuyDate,
		StopLoss:    req.StopLoss,
	})
	if err != nil {
		h.fail(c, "record buy", err)
		return
	}
	h.reporter.Reschedule()

	snap, err := h.store.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"holding": holding, "snapshot": snap})
}

type UpdateRequest struct {
	Shares        *decimal.Decimal `json:"shares"`
	TotalCost     *decimal.Decimal `json:"total_cost"`
	AvgPrice      *decimal.Decimal `json:"avg_price"`
	Currency      *string          `json:"currency"`
	BuyDate       *time.Time       `json:"buy_date"`
	ClearBuyDate  bool             `json:"clear_buy_date"`
	StopLoss      *decimal.Decimal `json:"stop_loss"`
	ClearStopLoss bool             `json:"clear_stop_loss"`
}

func (h *Handler) PatchHolding(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid update body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	upd := database.HoldingUpdate{
		Shares:      req.Shares,
		TotalCost:   req.TotalCost,
		AvgPrice:    req.AvgPrice,
		Currency:    req.Currency,
		BuyDate:     req.BuyDate,
		BuyDateSet:  req.BuyDate != nil || req.ClearBuyDate,
		StopLoss:    req.StopLoss,
		StopLossSet: req.StopLoss != nil || req.ClearStopLoss,
	}
	holding, err := h.store.UpdateHolding(c.Request.Context(), c.Param("symbol"), upd)
	if err != nil {
		h.fail(c, "update holding", err)
		return
	}
	h.reporter.Reschedule()
	c.JSON(http.StatusOK, gin.H{"holding": holding})
}

type SellRequest struct {
	Price    *decimal.Decimal `json:"price"`
	SellDate *time.Time       `json:"sell_date"`
}

func (h *Handler) PostSell(c *gin.Context) {
	// An absent body means sell at market, same as an empty object.
	var req SellRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.log.Warnf("invalid sell body: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	symbol := c.Param("symbol")
	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	}
	if !price.IsPositive() {
		// No explicit price: sell at the current market quote.
		quote, err := h.quotes.Fetch(c.Request.Context(), symbol)
		if err != nil {
			h.log.Warnf("sell quote %s: %v", symbol, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not determine a sale price"})
			return
		}
		price = quote.Price
	}

	result, err := h.store.SellHolding(c.Request.Context(), symbol, price, req.SellDate)
	if err != nil {
		h.fail(c, "sell holding", err)
		return
	}
	h.reporter.Reschedule()

	snap, err := h.store.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"proceeds":        result.Proceeds,
		"currency":        result.Currency,
		"removed_holding": result.Removed,
		"snapshot":        snap,
	})
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	snap, err := h.store.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, "load snapshot", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetQuote(c *gin.Context) {
	quote, err := h.quotes.Fetch(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.log.Warnf("quote fetch failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "quote fetch failed"})
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) GetTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := h.store.ListTransactions(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "list transactions", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetReporterSettings(c *gin.Context) {
	settings, err := h.store.ReporterSettings(c.Request.Context())
	if err != nil {
		h.fail(c, "load reporter settings", err)
		return
	}
	holdings, err := h.store.ListAlertEligible(c.Request.Context())
	if err != nil {
		h.fail(c, "list eligible holdings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings, "holdings": holdings})
}

type SettingsRequest struct {
	Enabled       bool   `json:"enabled"`
	Destination   string `json:"email_address"`
	SMTPHost      string `json:"smtp_host"`
	SMTPPort      int    `json:"smtp_port"`
	SMTPUsername  string `json:"smtp_username"`
	SMTPPassword  string `json:"smtp_password"`
	FromAddress   string `json:"from_address"`
	CheckInterval int    `json:"check_interval"`
}

func (h *Handler) PutReporterSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnf("invalid settings body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := h.store.SaveReporterSettings(c.Request.Context(), models.ReporterSettings{
		Enabled:       req.Enabled,
		Destination:   req.Destination,
		SMTPHost:      req.SMTPHost,
		SMTPPort:      req.SMTPPort,
		SMTPUsername:  req.SMTPUsername,
		SMTPPassword:  req.SMTPPassword,
		FromAddress:   req.FromAddress,
		CheckInterval: req.CheckInterval,
	})
	if err != nil {
		h.fail(c, "save reporter settings", err)
		return
	}
	h.reporter.Reschedule()
	c.JSON(http.StatusOK, gin.H{"settings": saved})
}

// fail maps store errors onto HTTP statuses: bad input is the caller's
// fault, a missing holding is 404, everything else is internal.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Errorf("%s failed: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
