package orderbook

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"crossbook/infra/sequence"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// DefaultPriceAlertThreshold is the trade price at or above which a price
// level broadcast is sent.
const DefaultPriceAlertThreshold int64 = 10

// OrderBook is the matching engine for a single instrument.
//
// Every public method takes the one book mutex; matching, index updates,
// notification and the ledger write happen inside that critical section.
// Unexported methods assume the lock is held, which lets the stop cascade
// recurse without re-locking.
type OrderBook struct {
	mu sync.Mutex

	bids      *RBTree
	asks      *RBTree
	bidOrders map[OrderID]*Order
	askOrders map[OrderID]*Order
	users     *userIndex
	stops     *stopIndex
	lastPrice int64

	seq      *sequence.Sequencer
	ledger   Ledger
	notifier Notifier
	metrics  Metrics
	log      logrus.FieldLogger

	alertThreshold int64
	now            func() time.Time
}

type Option func(*OrderBook)

func WithLogger(l logrus.FieldLogger) Option {
	return func(b *OrderBook) { b.log = l }
}

func WithPriceAlertThreshold(p int64) Option {
	return func(b *OrderBook) { b.alertThreshold = p }
}

func WithClock(now func() time.Time) Option {
	return func(b *OrderBook) { b.now = now }
}

func WithMetrics(m Metrics) Option {
	return func(b *OrderBook) { b.metrics = m }
}

// NewOrderBook builds a book and restores it from ledger. A nil ledger
// disables persistence and a nil notifier drops every notification.
func NewOrderBook(ledger Ledger, notifier Notifier, opts ...Option) *OrderBook {
	b := &OrderBook{
		bids:           NewRBTree(),
		asks:           NewRBTree(),
		bidOrders:      make(map[OrderID]*Order),
		askOrders:      make(map[OrderID]*Order),
		users:          newUserIndex(),
		stops:          newStopIndex(),
		seq:            sequence.New(0),
		ledger:         ledger,
		notifier:       notifier,
		alertThreshold: DefaultPriceAlertThreshold,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.ledger == nil {
		b.ledger = discardLedger{}
	}
	if b.notifier == nil {
		b.notifier = nopNotifier{}
	}
	if b.metrics == nil {
		b.metrics = nopMetrics{}
	}
	if b.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		b.log = l
	}
	b.restore()
	return b
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// AddLimitOrder matches o against the opposite side and rests any remainder.
// An order with a zero ID is given the next identity. The returned bool
// reports whether part of the order still rests once triggered stops have run.
func (b *OrderBook) AddLimitOrder(o Order) (OrderID, bool, error) {
	if err := validate(o, Limit); err != nil {
		return 0, false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ord, err := b.assign(o)
	if err != nil {
		return 0, false, err
	}
	b.match(ord)
	if ord.Size > 0 {
		b.rest(ord)
	}

	// The remainder is already resting, so activated stops may trade
	// against it.
	b.activateStops(b.marketPrice())
	b.saveOrders()

	_, rested := b.bidOrders[ord.ID]
	if ord.Side == Ask {
		_, rested = b.askOrders[ord.ID]
	}
	return ord.ID, rested, nil
}

// ExecuteMarketOrder fills o in full against the opposite side or not at all.
func (b *OrderBook) ExecuteMarketOrder(o Order) (OrderID, error) {
	if err := validate(o, Market); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ord, err := b.assign(o)
	if err != nil {
		return 0, err
	}
	if err := b.executeMarket(ord); err != nil {
		// The identity is spent; persist the counter so it is not issued again.
		b.saveOrders()
		return ord.ID, err
	}
	return ord.ID, nil
}

// CancelOrder removes a resting limit order owned by owner.
func (b *OrderBook) CancelOrder(owner string, id OrderID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.users.contains(owner, id) {
		return errors.Wrapf(ErrOrderNotFound, "order %d for %q", id, owner)
	}

	ord, tree, orders := b.resting(id)
	if ord == nil || ord.Owner != owner {
		return errors.Wrapf(ErrOrderNotFound, "order %d is not resting", id)
	}

	delete(orders, id)
	if lvl := tree.FindLevel(ord.LimitPrice); lvl != nil {
		lvl.Remove(id)
		if lvl.Empty() {
			tree.DeleteLevel(lvl.Price)
		}
	}
	b.users.remove(owner, id)
	b.saveOrders()

	b.log.WithFields(logrus.Fields{
		"order_id": id,
		"owner":    owner,
		"side":     ord.Side.String(),
		"price":    ord.LimitPrice,
	}).Info("order cancelled")
	return nil
}

// AddStopOrder files o under its trigger price. It never activates stops
// by itself; activation follows the next trade or CheckAndActivateStopOrders.
func (b *OrderBook) AddStopOrder(o Order) (OrderID, error) {
	if err := validate(o, Stop); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ord, err := b.assign(o)
	if err != nil {
		return 0, err
	}
	b.stops.add(ord)
	b.users.add(ord.Owner, ord.ID)
	b.saveStops()

	b.log.WithFields(logrus.Fields{
		"order_id": ord.ID,
		"owner":    ord.Owner,
		"side":     ord.Side.String(),
		"trigger":  ord.TriggerPrice(),
	}).Info("stop order added")
	return ord.ID, nil
}

// CheckAndActivateStopOrders fires every stop whose trigger is reached
// at price, cascading through any trades the activations produce.
func (b *OrderBook) CheckAndActivateStopOrders(price int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.activateStops(price)
}

// NextOrderID reports the identity the next accepted order will get.
// It does not reserve it.
func (b *OrderBook) NextOrderID() OrderID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID()
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// UserOrderIDs lists the live order IDs of owner in ascending order.
func (b *OrderBook) UserOrderIDs(owner string) []OrderID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.users.ids(owner)
}

func (b *OrderBook) LastPrice() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPrice
}

// MarketPrice is the last trade price, or the book mid when nothing has
// traded yet.
func (b *OrderBook) MarketPrice() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.marketPrice()
}

func (b *OrderBook) BestBid() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lvl := b.bids.MaxLevel(); lvl != nil {
		return lvl.Price, true
	}
	return 0, false
}

func (b *OrderBook) BestAsk() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lvl := b.asks.MinLevel(); lvl != nil {
		return lvl.Price, true
	}
	return 0, false
}

// Depth returns up to limit levels of side, best price first.
// A limit of zero or less returns every level.
func (b *OrderBook) Depth(side Side, limit int) []Level {
	b.mu.Lock()
	defer b.mu.Unlock()

	tree, orders := b.side(side)
	var out []Level
	visit := func(lvl *PriceLevel) bool {
		row := Level{Price: lvl.Price, Orders: lvl.Len()}
		lvl.ForEach(func(id OrderID) bool {
			if o, ok := orders[id]; ok {
				row.Size += o.Size
			}
			return true
		})
		out = append(out, row)
		return limit <= 0 || len(out) < limit
	}
	if side == Bid {
		tree.ForEachDescending(visit)
	} else {
		tree.ForEachAscending(visit)
	}
	return out
}

// Order looks up a resting or pending order by ID.
func (b *OrderBook) Order(id OrderID) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, _, _ := b.resting(id); o != nil {
		return *o, true
	}
	if o, ok := b.stops.orders[id]; ok {
		return *o, true
	}
	return Order{}, false
}

// PendingStops is the number of stop orders waiting for their trigger.
func (b *OrderBook) PendingStops() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops.len()
}

//
// ──────────────────────────────────────────────────────────
// Matching (lock held)
// ──────────────────────────────────────────────────────────
//

// assign gives o its identity. A caller-supplied ID is only accepted when
// it is above every ID issued so far.
func (b *OrderBook) assign(o Order) (*Order, error) {
	switch {
	case o.ID == 0:
		o.ID = OrderID(b.seq.Next())
	case int64(o.ID) <= b.seq.Last():
		return nil, errors.Wrapf(ErrInvalidOrder, "order id %d already issued", o.ID)
	default:
		b.seq.AdvanceTo(int64(o.ID))
	}
	if o.Timestamp == 0 {
		o.Timestamp = b.now().UnixMilli()
	}
	return &o, nil
}

func (b *OrderBook) side(s Side) (*RBTree, map[OrderID]*Order) {
	if s == Bid {
		return b.bids, b.bidOrders
	}
	return b.asks, b.askOrders
}

// bestOpposite returns the level a taker on side s trades against next.
func (b *OrderBook) bestOpposite(s Side) *PriceLevel {
	if s == Bid {
		return b.asks.MinLevel()
	}
	return b.bids.MaxLevel()
}

// crosses reports whether a limit taker accepts a maker at price.
func crosses(taker *Order, price int64) bool {
	if taker.Side == Ask {
		return price >= taker.LimitPrice
	}
	return price <= taker.LimitPrice
}

// match consumes the opposite side for taker, best level first and oldest
// order first within a level. Limit takers stop at the first level that
// does not cross; market takers only stop when filled or out of liquidity.
func (b *OrderBook) match(taker *Order) {
	tree, orders := b.side(taker.Side.Opposite())

	for taker.Size > 0 {
		lvl := b.bestOpposite(taker.Side)
		if lvl == nil {
			return
		}
		if taker.Kind == Limit && !crosses(taker, lvl.Price) {
			return
		}

		b.consume(taker, lvl, orders)

		if lvl.Empty() {
			tree.DeleteLevel(lvl.Price)
		}
	}
}

func (b *OrderBook) consume(taker *Order, lvl *PriceLevel, orders map[OrderID]*Order) {
	for taker.Size > 0 {
		id, ok := lvl.Head()
		if !ok {
			return
		}
		maker, ok := orders[id]
		if !ok {
			lvl.Remove(id)
			continue
		}

		qty := min(taker.Size, maker.Size)
		taker.Size -= qty
		maker.Size -= qty
		b.recordTrade(taker, maker, qty, lvl.Price)

		if maker.Size == 0 {
			lvl.Remove(id)
			delete(orders, id)
			b.users.remove(maker.Owner, id)
		}
	}
}

// available sums opposite liquidity for a taker on side s, stopping once
// need is covered.
func (b *OrderBook) available(s Side, need int64) int64 {
	tree, orders := b.side(s.Opposite())
	var total int64
	visit := func(lvl *PriceLevel) bool {
		lvl.ForEach(func(id OrderID) bool {
			if o, ok := orders[id]; ok {
				total += o.Size
			}
			return total < need
		})
		return total < need
	}
	if s == Bid {
		tree.ForEachAscending(visit)
	} else {
		tree.ForEachDescending(visit)
	}
	return total
}

func (b *OrderBook) executeMarket(o *Order) error {
	if got := b.available(o.Side, o.Size); got < o.Size {
		b.metrics.MarketOrderRejected()
		b.log.WithFields(logrus.Fields{
			"order_id":  o.ID,
			"owner":     o.Owner,
			"side":      o.Side.String(),
			"size":      o.Size,
			"available": got,
			"bids":      len(b.bidOrders),
			"asks":      len(b.askOrders),
		}).Warn("market order rejected")
		return errors.Wrapf(ErrInsufficientLiquidity, "market order %d wants %d, book has %d", o.ID, o.Size, got)
	}

	b.match(o)
	b.saveOrders()
	b.activateStops(b.marketPrice())
	return nil
}

func (b *OrderBook) rest(o *Order) {
	tree, orders := b.side(o.Side)
	orders[o.ID] = o
	tree.UpsertLevel(o.LimitPrice).Push(o.ID)
	b.users.add(o.Owner, o.ID)

	b.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"side":     o.Side.String(),
		"size":     o.Size,
		"price":    o.LimitPrice,
	}).Debug("order resting")
}

func (b *OrderBook) recordTrade(taker, maker *Order, qty, price int64) {
	buyer, seller := taker.Owner, maker.Owner
	if taker.Side == Ask {
		buyer, seller = maker.Owner, taker.Owner
	}

	t := Trade{
		TakerOrderID: taker.ID,
		Buyer:        buyer,
		Seller:       seller,
		Size:         qty,
		Price:        price,
		Timestamp:    b.now().UnixMilli(),
		Kind:         taker.Kind,
	}
	b.lastPrice = price

	if err := b.ledger.SaveExecutedOrder(t); err != nil {
		b.persistFailed("executed_order", err)
	}
	b.metrics.TradeExecuted(qty, price)

	b.notifier.NotifyTrade(buyer, fmt.Sprintf("[%d]: You have Bought %d bitcoin at %d price each.", taker.ID, qty, price))
	b.notifier.NotifyTrade(seller, fmt.Sprintf("[%d]: You have Sold %d bitcoin at %d price each.", taker.ID, qty, price))
	if price >= b.alertThreshold {
		b.notifier.NotifyPriceLevel(price)
	}
}

func (b *OrderBook) marketPrice() int64 {
	if b.lastPrice != 0 {
		return b.lastPrice
	}
	bid, ask := b.bids.MaxLevel(), b.asks.MinLevel()
	switch {
	case bid != nil && ask != nil:
		return (bid.Price + ask.Price) / 2
	case bid != nil:
		return bid.Price
	case ask != nil:
		return ask.Price
	}
	return 0
}

// resting finds a resting limit order together with the side it rests on.
func (b *OrderBook) resting(id OrderID) (*Order, *RBTree, map[OrderID]*Order) {
	if o, ok := b.bidOrders[id]; ok {
		return o, b.bids, b.bidOrders
	}
	if o, ok := b.askOrders[id]; ok {
		return o, b.asks, b.askOrders
	}
	return nil, nil, nil
}

//
// ──────────────────────────────────────────────────────────
// Stop activation (lock held)
// ──────────────────────────────────────────────────────────
//

// activateStops collects both trigger scans before executing anything, so
// trades made by one activation only reach other stops through the nested
// call made by executeMarket.
func (b *OrderBook) activateStops(price int64) {
	if price <= 0 || b.stops.len() == 0 {
		return
	}

	sells := b.stops.triggered(Bid, price)
	buys := b.stops.triggered(Ask, price)
	if len(sells) == 0 && len(buys) == 0 {
		return
	}

	b.runStops(sells, price)
	b.runStops(buys, price)
	b.saveStops()
}

// runStops converts each triggered stop into a market order on the side
// it trades into. A bid-keyed stop sells and an ask-keyed stop buys. The
// market order keeps the stop's ID. Activations that cannot fill are
// dropped.
func (b *OrderBook) runStops(ids []OrderID, price int64) {
	for _, id := range ids {
		stop, ok := b.stops.take(id)
		if !ok {
			continue
		}
		b.users.remove(stop.Owner, id)
		b.metrics.StopActivated()

		mkt := NewMarketOrder(stop.ID, stop.Side.Opposite(), stop.Size, b.now().UnixMilli(), stop.Owner)
		entry := b.log.WithFields(logrus.Fields{
			"order_id":     id,
			"owner":        stop.Owner,
			"trigger":      stop.TriggerPrice(),
			"market_price": price,
			"executes_as":  mkt.Side.String(),
		})
		entry.Info("stop order activated")

		if err := b.executeMarket(&mkt); err != nil {
			b.metrics.StopDropped()
			entry.WithError(err).Warn("stop order dropped")
		}
	}
}

//
// ──────────────────────────────────────────────────────────
// Persistence (lock held)
// ──────────────────────────────────────────────────────────
//

func (b *OrderBook) nextID() OrderID {
	return OrderID(b.seq.Peek())
}

func (b *OrderBook) saveOrders() {
	if err := b.ledger.SaveOrders(copyOrders(b.bidOrders), copyOrders(b.askOrders), b.nextID()); err != nil {
		b.persistFailed("orders", err)
	}
}

func (b *OrderBook) saveStops() {
	if err := b.ledger.SaveStopOrders(b.stops.snapshot(), b.nextID()); err != nil {
		b.persistFailed("stop_orders", err)
	}
}

func (b *OrderBook) persistFailed(op string, err error) {
	b.metrics.PersistFailed(op)
	b.log.WithError(err).WithField("op", op).Error("ledger write failed; continuing in memory")
}

func copyOrders(src map[OrderID]*Order) map[OrderID]Order {
	out := make(map[OrderID]Order, len(src))
	for id, o := range src {
		out[id] = *o
	}
	return out
}

// restore loads resting orders, stops and the last trade price. Within a
// price level orders are queued by ascending ID, which is their original
// arrival order.
func (b *OrderBook) restore() {
	var maxID OrderID

	snap, err := b.ledger.LoadOrders()
	if err != nil {
		b.log.WithError(err).Error("load resting orders failed; starting with an empty book")
		snap = Snapshot{}
	}
	for _, o := range sortedByID(snap.Bids, snap.Asks) {
		if o.Kind != Limit || !o.Side.Valid() || o.Size <= 0 {
			b.log.WithField("order", o.String()).Warn("skipping invalid persisted order")
			continue
		}
		ord := o
		b.rest(&ord)
		maxID = max(maxID, o.ID)
	}

	stops, err := b.ledger.LoadStopOrders()
	if err != nil {
		b.log.WithError(err).Error("load stop orders failed; starting with no stops")
		stops = nil
	}
	for _, o := range sortedByID(stops) {
		if o.Kind != Stop || !o.Side.Valid() || o.Size <= 0 {
			b.log.WithField("order", o.String()).Warn("skipping invalid persisted stop")
			continue
		}
		ord := o
		b.stops.add(&ord)
		b.users.add(ord.Owner, ord.ID)
		maxID = max(maxID, o.ID)
	}

	trades, err := b.ledger.LoadExecutedOrders()
	if err != nil {
		b.log.WithError(err).Error("load executed orders failed; last price unknown")
	}
	if n := len(trades); n > 0 {
		b.lastPrice = trades[n-1].Price
		for _, t := range trades {
			maxID = max(maxID, t.TakerOrderID)
		}
	}

	b.seq.AdvanceTo(int64(max(maxID, snap.NextID-1)))

	b.log.WithFields(logrus.Fields{
		"bids":       len(b.bidOrders),
		"asks":       len(b.askOrders),
		"stops":      b.stops.len(),
		"last_price": b.lastPrice,
		"next_id":    b.seq.Peek(),
	}).Info("order book restored")
}

func sortedByID(sets ...map[OrderID]Order) []Order {
	var out []Order
	for _, set := range sets {
		for id, o := range set {
			o.ID = id
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validate(o Order, kind Kind) error {
	switch {
	case o.Kind != kind:
		return errors.Wrapf(ErrInvalidOrder, "expected %s order, got %s", kind, o.Kind)
	case !o.Side.Valid():
		return errors.Wrapf(ErrInvalidOrder, "unknown side %d", uint8(o.Side))
	case o.Size <= 0:
		return errors.Wrapf(ErrInvalidOrder, "size must be positive, got %d", o.Size)
	case kind != Market && o.LimitPrice <= 0:
		return errors.Wrapf(ErrInvalidOrder, "price must be positive, got %d", o.LimitPrice)
	}
	return nil
}

type discardLedger struct{}

func (discardLedger) SaveOrders(map[OrderID]Order, map[OrderID]Order, OrderID) error { return nil }
func (discardLedger) LoadOrders() (Snapshot, error)                               { return Snapshot{}, nil }
func (discardLedger) SaveStopOrders(map[OrderID]Order, OrderID) error              { return nil }
func (discardLedger) LoadStopOrders() (map[OrderID]Order, error)                   { return nil, nil }
func (discardLedger) SaveExecutedOrder(Trade) error                                { return nil }
func (discardLedger) LoadExecutedOrders() ([]Trade, error)                         { return nil, nil }
