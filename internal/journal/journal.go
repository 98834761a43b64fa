// Package journal keeps the append-only record of order lifecycle events.
// Nothing in matching reads it back; it exists for audit and statistics.
package journal

import (
	"fmt"

	. "barmatch/internal/common"

	"github.com/shopspring/decimal"
)

type Entry struct {
	OrderID    string
	Side       Side
	Event      Event
	Timestamp  int64
	BarIndex   int
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Reason     Reason
	Status     OrderStatus
	ProfitLoss decimal.NullDecimal // Sell fills only
}

// EntryFor snapshots an order at the moment of a transition.
func EntryFor(order *PendingOrder, event Event, timestamp int64, barIndex int) Entry {
	return Entry{
		OrderID:   order.ID,
		Side:      order.Side,
		Event:     event,
		Timestamp: timestamp,
		BarIndex:  barIndex,
		Price:     order.Price,
		Quantity:  order.Quantity,
		Reason:    order.Reason,
		Status:    order.Status,
	}
}

func (e Entry) String() string {
	return fmt.Sprintf("%d %-9v %-4v %s %s @ %s (%s, %v)",
		e.Timestamp, e.Event, e.Side, e.OrderID, e.Quantity, e.Price, e.Reason, e.Status)
}

// Log is not safe for concurrent use; each manager owns its own.
type Log struct {
	entries []Entry
}

func New() *Log {
	return &Log{}
}

func (l *Log) Record(entry Entry) {
	l.entries = append(l.entries, entry)
}

// Entries returns a copy, so callers cannot rewrite history.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int { return len(l.entries) }

func (l *Log) Reset() {
	l.entries = nil
}

// Summary aggregates the journal.
type Summary struct {
	Placed    int
	Filled    int
	Expired   int
	Cancelled int

	BuyFills  int
	SellFills int

	Wins        int
	Losses      int
	WinRate     decimal.Decimal // Percent of sell fills with a positive P&L
	RealizedPnL decimal.Decimal
}

func (l *Log) Summary() Summary {
	s := Summary{WinRate: decimal.Zero, RealizedPnL: decimal.Zero}
	scored := 0
	for _, e := range l.entries {
		switch e.Event {
		case EventPlaced:
			s.Placed++
		case EventExpired:
			s.Expired++
		case EventCancelled:
			s.Cancelled++
		case EventFilled:
			s.Filled++
			if e.Side == Buy {
				s.BuyFills++
				continue
			}
			s.SellFills++
			if !e.ProfitLoss.Valid {
				continue
			}
			scored++
			s.RealizedPnL = s.RealizedPnL.Add(e.ProfitLoss.Decimal)
			if e.ProfitLoss.Decimal.IsPositive() {
				s.Wins++
			} else {
				s.Losses++
			}
		}
	}
	if scored > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).
			Div(decimal.NewFromInt(int64(scored))).
			Mul(decimal.NewFromInt(100))
	}
	return s
}
