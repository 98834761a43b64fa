package replay

import (
	. "barmatch/internal/common"
	"barmatch/internal/gfob"

	"github.com/shopspring/decimal"
)

// DefaultExitAttempts is how many normal exits may expire before the
// strategy switches to FAST_EXIT.
const DefaultExitAttempts = 3

// TailStrategy is the simplest strategy that exercises a full round trip:
// quote a buy at every close while flat, and a sell at every close while
// holding. Exits that keep expiring are escalated to FAST_EXIT.
type TailStrategy struct {
	ExitAttempts int

	held         *holding
	exitFailures int
}

type holding struct {
	orderID  string
	price    decimal.Decimal
	quantity decimal.Decimal
}

func NewTailStrategy() *TailStrategy {
	return &TailStrategy{ExitAttempts: DefaultExitAttempts}
}

func (s *TailStrategy) Holding() bool { return s.held != nil }

func (s *TailStrategy) OnBar(bar Bar, result gfob.MatchResult, m *gfob.Manager) error {
	// Sells settle first, matching the order the manager filled them in.
	for _, fill := range result.SellFills {
		if s.held == nil || fill.ParentOrderID != s.held.orderID {
			continue
		}
		pnl := fill.ProfitLoss.Decimal
		if !fill.ProfitLoss.Valid {
			pnl, _ = ProfitLoss(s.held.price, fill.Price, fill.Quantity)
		}
		if err := m.ReleaseSellCapital(s.held.price, fill.Quantity, pnl); err != nil {
			return err
		}
		s.held = nil
		s.exitFailures = 0
	}

	for _, fill := range result.BuyFills {
		s.held = &holding{
			orderID:  fill.OrderID,
			price:    fill.Price,
			quantity: fill.Quantity,
		}
	}

	for _, expired := range result.Expired {
		if expired.Side == Sell {
			s.exitFailures++
		}
	}

	if s.held != nil && !m.HasPendingSell() {
		reason := ReasonNormalExit
		if s.exitFailures >= s.ExitAttempts {
			reason = ReasonFastExit
		}
		if _, err := m.CreateSellOrder(bar.Close, s.held.orderID, s.held.quantity, reason, bar.Index, bar.Timestamp); err != nil {
			return err
		}
	}

	if s.held == nil && !m.HasPendingBuy() {
		// A nil order here only means capital ran out; try again next bar.
		if _, err := m.CreateBuyOrder(bar.Close, bar.Index, bar.Timestamp); err != nil {
			return err
		}
	}
	return nil
}
