package ledger

import (
	. "barmatch/internal/common"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

type PriceLevel struct {
	priceLevel decimal.Decimal
	orders     []*PendingOrder
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// newBids sorts greatest price first.
func newBids() *PriceLevels {
	return btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.priceLevel.GreaterThan(b.priceLevel)
	})
}

// newAsks sorts least price first.
func newAsks() *PriceLevels {
	return btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.priceLevel.LessThan(b.priceLevel)
	})
}

// addOrder appends the order to its price level, keeping arrival order
// within the level.
func addOrder(levels *PriceLevels, order *PendingOrder) {
	// Levels comparator only accounts for price levels, so we create a dummy
	// price level for the search.
	level, ok := levels.GetMut(&PriceLevel{priceLevel: order.Price})
	if ok {
		level.orders = append(level.orders, order)
		return
	}
	levels.Set(&PriceLevel{
		priceLevel: order.Price,
		orders:     []*PendingOrder{order},
	})
}

// removeOrder drops the order from its level, deleting the level once empty.
func removeOrder(levels *PriceLevels, order *PendingOrder) bool {
	level, ok := levels.GetMut(&PriceLevel{priceLevel: order.Price})
	if !ok {
		return false
	}
	for i, o := range level.orders {
		if o != order {
			continue
		}
		level.orders = append(level.orders[:i], level.orders[i+1:]...)
		if len(level.orders) == 0 {
			levels.Delete(level)
		}
		return true
	}
	return false
}

// flatten copies every resting order out in price-time priority.
func flatten(levels *PriceLevels) []PendingOrder {
	var out []PendingOrder
	levels.Scan(func(level *PriceLevel) bool {
		for _, o := range level.orders {
			out = append(out, *o)
		}
		return true
	})
	return out
}

// within collects the orders whose price lies in [low, high], walking the
// tree from the pivot that is nearest the top of book.
func within(levels *PriceLevels, pivot, low, high decimal.Decimal) []PendingOrder {
	var out []PendingOrder
	levels.Ascend(&PriceLevel{priceLevel: pivot}, func(level *PriceLevel) bool {
		if level.priceLevel.LessThan(low) || level.priceLevel.GreaterThan(high) {
			return false
		}
		for _, o := range level.orders {
			out = append(out, *o)
		}
		return true
	})
	return out
}
