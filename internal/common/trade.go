package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bar is one OHLC sample. Index must strictly increase across a replay.
type Bar struct {
	Index     int
	Timestamp int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
}

// Fill is the execution record of an order matched at its limit price.
// BuyPrice, ProfitLoss and ProfitRate are only set for sells whose parent
// buy is known.
type Fill struct {
	OrderID       string
	ParentOrderID string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Amount        decimal.Decimal
	Timestamp     int64
	BarIndex      int
	Reason        Reason
	Status        OrderStatus
	BuyPrice      decimal.NullDecimal
	ProfitLoss    decimal.NullDecimal
	ProfitRate    decimal.NullDecimal // Percent of the buy amount
}

// NewFill builds the fill record of an order that has just been filled.
func NewFill(order *PendingOrder, barIndex int) Fill {
	return Fill{
		OrderID:       order.ID,
		ParentOrderID: order.ParentOrderID,
		Side:          order.Side,
		Price:         order.Price,
		Quantity:      order.Quantity,
		Amount:        order.Amount,
		Timestamp:     order.FilledAt,
		BarIndex:      barIndex,
		Reason:        order.Reason,
		Status:        order.Status,
	}
}

// WithProfit sets the realized figures of a sell against its buy price.
func (f Fill) WithProfit(buyPrice decimal.Decimal) Fill {
	pnl, rate := ProfitLoss(buyPrice, f.Price, f.Quantity)
	f.BuyPrice = decimal.NewNullDecimal(buyPrice)
	f.ProfitLoss = decimal.NewNullDecimal(pnl)
	f.ProfitRate = decimal.NewNullDecimal(rate)
	return f
}

func (f Fill) String() string {
	pnl := "-"
	if f.ProfitLoss.Valid {
		pnl = fmt.Sprintf("%s (%s%%)", f.ProfitLoss.Decimal, f.ProfitRate.Decimal.StringFixed(4))
	}
	return fmt.Sprintf("%v %s %s @ %s bar=%d ts=%d reason=%s pnl=%s",
		f.Side, f.OrderID, f.Quantity, f.Price, f.BarIndex, f.Timestamp, f.Reason, pnl)
}

// Expiry records a GFOB order discarded because its valid bar passed.
type Expiry struct {
	OrderID   string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	ValidBar  int
	BarIndex  int
	Timestamp int64
	Reason    Reason
}

var hundred = decimal.NewFromInt(100)

// ProfitLoss returns (sell - buy) x quantity and that figure as a percent
// of buy x quantity.
func ProfitLoss(buyPrice, sellPrice, quantity decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	pnl := sellPrice.Sub(buyPrice).Mul(quantity)
	cost := buyPrice.Mul(quantity)
	if cost.IsZero() {
		return pnl, decimal.Zero
	}
	return pnl, pnl.Div(cost).Mul(hundred)
}
