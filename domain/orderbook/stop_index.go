package orderbook

// stopIndex holds pending stop orders keyed by trigger price.
//
// Bid-side triggers model stop-sells and fire when the market falls to or
// below them; ask-side triggers model stop-buys and fire when the market
// rises to or above them.
type stopIndex struct {
	bids   *RBTree
	asks   *RBTree
	orders map[OrderID]*Order
}

func newStopIndex() *stopIndex {
	return &stopIndex{
		bids:   NewRBTree(),
		asks:   NewRBTree(),
		orders: make(map[OrderID]*Order),
	}
}

func (s *stopIndex) tree(side Side) *RBTree {
	if side == Bid {
		return s.bids
	}
	return s.asks
}

func (s *stopIndex) add(o *Order) {
	s.orders[o.ID] = o
	s.tree(o.Side).UpsertLevel(o.TriggerPrice()).Push(o.ID)
}

// take removes a pending stop. The trigger bucket is expected to have been
// detached already by triggered.
func (s *stopIndex) take(id OrderID) (*Order, bool) {
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	delete(s.orders, id)
	if lvl := s.tree(o.Side).FindLevel(o.TriggerPrice()); lvl != nil {
		lvl.Remove(id)
		if lvl.Empty() {
			s.tree(o.Side).DeleteLevel(lvl.Price)
		}
	}
	return o, true
}

// triggered detaches every bucket on side that fires at price and returns
// their IDs in scan order, each bucket in insertion order.
func (s *stopIndex) triggered(side Side, price int64) []OrderID {
	t := s.tree(side)
	var fired []*PriceLevel
	if side == Bid {
		t.ForEachDescending(func(lvl *PriceLevel) bool {
			if price > lvl.Price {
				return false
			}
			fired = append(fired, lvl)
			return true
		})
	} else {
		t.ForEachAscending(func(lvl *PriceLevel) bool {
			if price < lvl.Price {
				return false
			}
			fired = append(fired, lvl)
			return true
		})
	}

	var ids []OrderID
	for _, lvl := range fired {
		ids = append(ids, lvl.IDs()...)
		t.DeleteLevel(lvl.Price)
	}
	return ids
}

func (s *stopIndex) len() int {
	return len(s.orders)
}

func (s *stopIndex) snapshot() map[OrderID]Order {
	out := make(map[OrderID]Order, len(s.orders))
	for id, o := range s.orders {
		out[id] = *o
	}
	return out
}
