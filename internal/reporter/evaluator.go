package reporter

import (
	"github.com/shopspring/decimal"

	"portwatch/internal/models"
)

// stopRetracement is how much of the stop distance the price may give
// back before the stop-loss warning fires.
var stopRetracement = decimal.RequireFromString("0.8")

// Evaluate decides which alert kinds fire for a holding at the given
// price. Pure: no clock, no I/O. A holding without a stop below its
// average price never fires. Both kinds may fire in one evaluation.
func Evaluate(h models.Holding, price decimal.Decimal) []models.AlertKind {
	risk, ok := h.Risk()
	if !ok {
		return nil
	}

	var kinds []models.AlertKind
	if price.LessThanOrEqual(h.AvgPrice.Sub(risk.Mul(stopRetracement))) {
		kinds = append(kinds, models.AlertStopLoss80)
	}
	if price.GreaterThanOrEqual(h.AvgPrice.Add(risk)) {
		kinds = append(kinds, models.AlertTakeProfit1R)
	}
	return kinds
}
