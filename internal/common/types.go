package common

import "fmt"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Validate rejects side tags outside the two supported values.
func (s Side) Validate() error {
	if s != Buy && s != Sell {
		return fmt.Errorf("%w: %d", ErrUnknownSide, int(s))
	}
	return nil
}

// OrderStatus only ever moves forward: Pending to one of the terminal
// states. There is no way back to Pending.
type OrderStatus int

const (
	Pending OrderStatus = iota
	Filled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// Event is a lifecycle transition recorded in the order journal.
type Event int

const (
	EventPlaced Event = iota
	EventFilled
	EventExpired
	EventCancelled
)

func (e Event) String() string {
	switch e {
	case EventPlaced:
		return "PLACED"
	case EventFilled:
		return "FILLED"
	case EventExpired:
		return "EXPIRED"
	case EventCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Reason tags why an order was quoted. Strategies may use their own values;
// only FastExit changes matching behaviour (the sell discount).
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonEntryTail  Reason = "ENTRY_TAIL"
	ReasonNormalExit Reason = "NORMAL_EXIT"
	ReasonFastExit   Reason = "FAST_EXIT"
)
