// Package gfob implements Good-For-One-Bar orders: an order placed while
// bar i is processed may only fill while bar i+1 is processed and is
// discarded otherwise.
//
// The manager keeps at most one pending buy and one pending sell. Buy side
// capital is accounted for by an owned ledger; sells freeze nothing since
// the position they close already holds the capital.
package gfob

import (
	"fmt"

	. "barmatch/internal/common"
	"barmatch/internal/journal"
	"barmatch/internal/ledger"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CapitalLedger is the part of the ledger the manager relies on.
type CapitalLedger interface {
	Initialize(capital decimal.Decimal) error
	CreateBuyOrder(price decimal.Decimal, barIndex int, timestamp int64, amount decimal.Decimal) (*PendingOrder, error)
	CancelAllBuyOrders(timestamp int64) (decimal.Decimal, error)
	FillBuyOrder(orderID string, barIndex int, timestamp int64) (*Fill, error)
	Release(principal, profitLoss decimal.Decimal) error
	Order(orderID string) (PendingOrder, bool)
	Available() decimal.Decimal
	Frozen() decimal.Decimal
	Total() decimal.Decimal
	Statistics() ledger.Stats
}

var _ CapitalLedger = (*ledger.Ledger)(nil)

type Config struct {
	DeltaIn      decimal.Decimal // Buy discount below the close
	DeltaOut     decimal.Decimal // Sell discount below the close, normal exits
	DeltaOutFast decimal.Decimal // Sell discount below the close, FAST_EXIT
	PositionSize decimal.Decimal // Amount frozen per buy
}

func DefaultConfig() Config {
	return Config{
		DeltaIn:      decimal.RequireFromString("0.001"),
		DeltaOut:     decimal.RequireFromString("0.0005"),
		DeltaOutFast: decimal.RequireFromString("0.002"),
		PositionSize: ledger.DefaultPositionSize,
	}
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.log = logger }
}

func WithIDs(ids IDGenerator) Option {
	return func(m *Manager) { m.ids = ids }
}

// WithLedger swaps the owned ledger. Mostly useful in tests.
func WithLedger(l CapitalLedger) Option {
	return func(m *Manager) { m.ledger = l }
}

type Manager struct {
	cfg     Config
	log     zerolog.Logger
	ids     IDGenerator
	ledger  CapitalLedger
	journal *journal.Log

	initialized bool
	pendingBuy  *PendingOrder
	pendingSell *PendingOrder
	sells       map[string]*PendingOrder // Sell history; buys live in the ledger
	orderCount  int

	// Last bar passed to MatchOrders. Bars must strictly increase.
	lastBar int
	started bool
}

func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		log:     log.Logger.With().Str("component", "gfob").Logger(),
		ids:     UUIDs(),
		journal: journal.New(),
		sells:   make(map[string]*PendingOrder),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ledger == nil {
		m.ledger = ledger.New(
			ledger.WithLogger(m.log),
			ledger.WithIDs(m.ids),
			ledger.WithPositionSize(cfg.PositionSize),
		)
	}
	return m
}

// Initialize resets the ledger, both order slots, the order counter and
// the journal.
func (m *Manager) Initialize(capital decimal.Decimal) error {
	if err := m.ledger.Initialize(capital); err != nil {
		return err
	}
	m.pendingBuy = nil
	m.pendingSell = nil
	m.sells = make(map[string]*PendingOrder)
	m.orderCount = 0
	m.journal.Reset()
	m.lastBar = 0
	m.started = false
	m.initialized = true
	return nil
}

// CreateBuyOrder quotes a buy at close x (1 - DeltaIn), valid on the next
// bar only. A nil order with a nil error means capital did not suffice.
func (m *Manager) CreateBuyOrder(closePrice decimal.Decimal, barIndex int, timestamp int64) (*PendingOrder, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if !closePrice.IsPositive() {
		return nil, fmt.Errorf("%w: close %s", ErrInvalidPrice, closePrice)
	}
	if m.pendingBuy != nil {
		return nil, fmt.Errorf("%w: %s", ErrBuyPending, m.pendingBuy.ID)
	}

	price := discount(closePrice, m.cfg.DeltaIn)
	order, err := m.ledger.CreateBuyOrder(price, barIndex, timestamp, m.cfg.PositionSize)
	if err != nil {
		return nil, err
	}
	if order == nil {
		m.log.Debug().Int("bar", barIndex).Str("price", price.String()).Msg("buy skipped, insufficient capital")
		return nil, nil
	}

	order.ValidBar = barIndex + 1
	order.Reason = ReasonEntryTail
	m.pendingBuy = order
	m.orderCount++
	m.journal.Record(journal.EntryFor(order, EventPlaced, timestamp, barIndex))
	return order, nil
}

// CreateSellOrder quotes a sell of a held position at close x (1 - delta),
// where delta is DeltaOutFast for FAST_EXIT and DeltaOut otherwise.
func (m *Manager) CreateSellOrder(
	closePrice decimal.Decimal,
	parentOrderID string,
	quantity decimal.Decimal,
	reason Reason,
	barIndex int,
	timestamp int64,
) (*PendingOrder, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if !closePrice.IsPositive() {
		return nil, fmt.Errorf("%w: close %s", ErrInvalidPrice, closePrice)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
	}
	if m.pendingSell != nil {
		return nil, fmt.Errorf("%w: %s", ErrSellPending, m.pendingSell.ID)
	}

	delta := m.cfg.DeltaOut
	if reason == ReasonFastExit {
		delta = m.cfg.DeltaOutFast
	}
	price := discount(closePrice, delta)

	order := &PendingOrder{
		ID:            m.ids(),
		Side:          Sell,
		Price:         price,
		Quantity:      quantity,
		Amount:        price.Mul(quantity),
		Status:        Pending,
		FrozenCapital: decimal.Zero,
		BarIndex:      barIndex,
		ValidBar:      barIndex + 1,
		CreatedAt:     timestamp,
		ParentOrderID: parentOrderID,
		Reason:        reason,
	}
	m.pendingSell = order
	m.sells[order.ID] = order
	m.orderCount++
	m.journal.Record(journal.EntryFor(order, EventPlaced, timestamp, barIndex))
	return order, nil
}

// CancelPendingBuy cancels the resting buy and unfreezes its capital. It
// returns a copy of the cancelled order, or nil when no buy was pending.
func (m *Manager) CancelPendingBuy(timestamp int64) (*PendingOrder, error) {
	if m.pendingBuy == nil {
		return nil, nil
	}
	order := m.pendingBuy
	if _, err := m.ledger.CancelAllBuyOrders(timestamp); err != nil {
		return nil, err
	}
	m.pendingBuy = nil
	m.journal.Record(journal.EntryFor(order, EventCancelled, timestamp, order.BarIndex))

	cancelled := *order
	return &cancelled, nil
}

// ReleaseSellCapital books a sell fill against the ledger: buyPrice x
// quantity leaves frozen capital and comes back as available together with
// profitLoss. MatchOrders does not do this on its own; the owner of the
// position calls it once it has settled the fill.
//
// The ledger only releases capital backing filled buys. A release larger
// than that (no position, or one that would reach into the pending buy's
// reservation) fails with ErrLedgerInvariant and changes nothing.
func (m *Manager) ReleaseSellCapital(buyPrice, quantity, profitLoss decimal.Decimal) error {
	if !buyPrice.IsPositive() {
		return fmt.Errorf("%w: buy price %s", ErrInvalidPrice, buyPrice)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
	}
	return m.ledger.Release(buyPrice.Mul(quantity), profitLoss)
}

// ---- Accessors ----

func (m *Manager) AvailableCapital() decimal.Decimal { return m.ledger.Available() }
func (m *Manager) FrozenCapital() decimal.Decimal    { return m.ledger.Frozen() }
func (m *Manager) TotalCapital() decimal.Decimal     { return m.ledger.Total() }

func (m *Manager) HasPendingBuy() bool  { return m.pendingBuy != nil }
func (m *Manager) HasPendingSell() bool { return m.pendingSell != nil }

func (m *Manager) PendingBuyPrice() (decimal.Decimal, bool) {
	if m.pendingBuy == nil {
		return decimal.Zero, false
	}
	return m.pendingBuy.Price, true
}

func (m *Manager) PendingSellPrice() (decimal.Decimal, bool) {
	if m.pendingSell == nil {
		return decimal.Zero, false
	}
	return m.pendingSell.Price, true
}

// Order looks up any order this manager created since Initialize.
func (m *Manager) Order(orderID string) (PendingOrder, bool) {
	if order, ok := m.sells[orderID]; ok {
		return *order, true
	}
	return m.ledger.Order(orderID)
}

func (m *Manager) OrderLogs() []journal.Entry {
	return m.journal.Entries()
}

type Stats struct {
	Ledger         ledger.Stats
	HasPendingBuy  bool
	HasPendingSell bool
	OrderCount     int
	Journal        journal.Summary
}

func (m *Manager) Statistics() Stats {
	return Stats{
		Ledger:         m.ledger.Statistics(),
		HasPendingBuy:  m.pendingBuy != nil,
		HasPendingSell: m.pendingSell != nil,
		OrderCount:     m.orderCount,
		Journal:        m.journal.Summary(),
	}
}

func discount(price, delta decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Sub(delta))
}
