package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NoValidBar marks orders that stay valid until filled or cancelled.
const NoValidBar = -1

type PendingOrder struct {
	ID            string          // Unique order id, assigned at creation
	Side          Side            // Order side
	Price         decimal.Decimal // Limit price
	Quantity      decimal.Decimal // Units
	Amount        decimal.Decimal // Price x quantity at creation (or latest sell reprice)
	Status        OrderStatus     //
	FrozenCapital decimal.Decimal // Cash reserved by this order, zero for sells
	BarIndex      int             // Bar on which the order was created
	ValidBar      int             // Only bar the order may fill on (GFOB), else NoValidBar
	CreatedAt     int64           //
	FilledAt      int64           // Zero until filled
	CancelAt      int64           // Zero until cancelled or expired
	ParentOrderID string          // Buy order that opened the position a sell closes
	Reason        Reason          //
}

func (order *PendingOrder) IsPending() bool {
	return order.Status == Pending
}

// MarkFilled moves a pending order to Filled.
func (order *PendingOrder) MarkFilled(timestamp int64) error {
	if order.Status != Pending {
		return fmt.Errorf("%w: %s is %s", ErrTerminalOrder, order.ID, order.Status)
	}
	order.Status = Filled
	order.FilledAt = timestamp
	return nil
}

// MarkCancelled moves a pending order to Cancelled. Expired orders end up
// here too; the journal tells the two apart.
func (order *PendingOrder) MarkCancelled(timestamp int64) error {
	if order.Status != Pending {
		return fmt.Errorf("%w: %s is %s", ErrTerminalOrder, order.ID, order.Status)
	}
	order.Status = Cancelled
	order.CancelAt = timestamp
	return nil
}

func (order PendingOrder) String() string {
	return fmt.Sprintf(
		`ID:            %s
Side:          %v
Price:         %s
Quantity:      %s (Amount: %s)
Status:        %v
FrozenCapital: %s
BarIndex:      %d (ValidBar: %d)
CreatedAt:     %d
Parent:        %s
Reason:        %s`,
		order.ID,
		order.Side,
		order.Price,
		order.Quantity,
		order.Amount,
		order.Status,
		order.FrozenCapital,
		order.BarIndex,
		order.ValidBar,
		order.CreatedAt,
		order.ParentOrderID,
		order.Reason,
	)
}
