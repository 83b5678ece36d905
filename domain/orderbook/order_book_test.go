package orderbook_test

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"crossbook/domain/orderbook"
	"crossbook/infra/ledger"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	owner   string
	message string
}

type recorder struct {
	mu     sync.Mutex
	trades []notice
	prices []int64
}

func (r *recorder) NotifyTrade(owner, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, notice{owner, message})
}

func (r *recorder) NotifyPriceLevel(price int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = append(r.prices, price)
}

func (r *recorder) owners() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.trades))
	for _, n := range r.trades {
		out = append(out, n.owner)
	}
	return out
}

type env struct {
	book   *orderbook.OrderBook
	store  *ledger.Memory
	notes  *recorder
	hook   *test.Hook
	logger *logrus.Logger
}

func newEnv(t *testing.T, opts ...orderbook.Option) *env {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	e := &env{store: ledger.NewMemory(), notes: &recorder{}, hook: hook, logger: logger}
	opts = append([]orderbook.Option{orderbook.WithLogger(logger)}, opts...)
	e.book = orderbook.NewOrderBook(e.store, e.notes, opts...)
	return e
}

func (e *env) limit(t *testing.T, owner string, side orderbook.Side, size, price int64) (orderbook.OrderID, bool) {
	t.Helper()
	id, rested, err := e.book.AddLimitOrder(orderbook.NewLimitOrder(0, side, size, price, 0, owner))
	require.NoError(t, err)
	return id, rested
}

func (e *env) stop(t *testing.T, owner string, side orderbook.Side, size, trigger int64) orderbook.OrderID {
	t.Helper()
	id, err := e.book.AddStopOrder(orderbook.NewStopOrder(0, side, size, trigger, 0, owner))
	require.NoError(t, err)
	return id
}

func (e *env) market(owner string, side orderbook.Side, size int64) error {
	_, err := e.book.ExecuteMarketOrder(orderbook.NewMarketOrder(0, side, size, 0, owner))
	return err
}

func (e *env) trades(t *testing.T) []orderbook.Trade {
	t.Helper()
	trades, err := e.store.LoadExecutedOrders()
	require.NoError(t, err)
	return trades
}

func assertNotCrossed(t *testing.T, b *orderbook.OrderBook) {
	t.Helper()
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk {
		require.Less(t, bid, ask, "crossed book: bid %d ask %d", bid, ask)
	}
}

// ---------------- Limit orders ----------------

func TestLimitOrderRestsOnEmptyBook(t *testing.T) {
	e := newEnv(t)

	id, rested := e.limit(t, "alice", orderbook.Bid, 10, 100)

	assert.True(t, rested)
	assert.Equal(t, orderbook.OrderID(1), id)
	assert.Equal(t, []orderbook.Level{{Price: 100, Size: 10, Orders: 1}}, e.book.Depth(orderbook.Bid, 0))
	assert.Empty(t, e.book.Depth(orderbook.Ask, 0))
	assert.Equal(t, []orderbook.OrderID{id}, e.book.UserOrderIDs("alice"))
	assert.Empty(t, e.trades(t))
}

func TestLimitOrderFullMatch(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "alice", orderbook.Bid, 10, 100)

	id, rested := e.limit(t, "bob", orderbook.Ask, 10, 100)

	assert.False(t, rested)
	assert.Empty(t, e.book.Depth(orderbook.Bid, 0))
	assert.Empty(t, e.book.Depth(orderbook.Ask, 0))
	assert.Empty(t, e.book.UserOrderIDs("alice"))
	assert.Empty(t, e.book.UserOrderIDs("bob"))

	trades := e.trades(t)
	require.Len(t, trades, 1)
	assert.Equal(t, id, trades[0].TakerOrderID)
	assert.Equal(t, "alice", trades[0].Buyer)
	assert.Equal(t, "bob", trades[0].Seller)
	assert.Equal(t, int64(10), trades[0].Size)
	assert.Equal(t, int64(100), trades[0].Price)
	assert.Equal(t, orderbook.Limit, trades[0].Kind)
	assert.Equal(t, int64(100), e.book.LastPrice())
	assert.ElementsMatch(t, []string{"alice", "bob"}, e.notes.owners())
}

func TestTradesExecuteAtMakerPrice(t *testing.T) {
	tests := []struct {
		name       string
		makerSide  orderbook.Side
		makerPrice int64
		takerPrice int64
	}{
		{"bid taker above ask", orderbook.Ask, 100, 105},
		{"ask taker below bid", orderbook.Bid, 110, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.limit(t, "maker", tt.makerSide, 5, tt.makerPrice)
			e.limit(t, "taker", tt.makerSide.Opposite(), 5, tt.takerPrice)

			trades := e.trades(t)
			require.Len(t, trades, 1)
			assert.Equal(t, tt.makerPrice, trades[0].Price)
		})
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	e := newEnv(t)
	first, _ := e.limit(t, "first", orderbook.Ask, 3, 100)
	second, _ := e.limit(t, "second", orderbook.Ask, 3, 100)

	_, rested := e.limit(t, "buyer", orderbook.Bid, 4, 100)
	require.False(t, rested)

	trades := e.trades(t)
	require.Len(t, trades, 2)
	assert.Equal(t, "first", trades[0].Seller)
	assert.Equal(t, int64(3), trades[0].Size)
	assert.Equal(t, "second", trades[1].Seller)
	assert.Equal(t, int64(1), trades[1].Size)

	_, ok := e.book.Order(first)
	assert.False(t, ok, "filled maker must leave the book")
	o, ok := e.book.Order(second)
	require.True(t, ok)
	assert.Equal(t, int64(2), o.Size)
	assert.Equal(t, []orderbook.Level{{Price: 100, Size: 2, Orders: 1}}, e.book.Depth(orderbook.Ask, 0))
}

func TestLimitOrderWalksCompatibleLevelsOnly(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "s1", orderbook.Ask, 2, 100)
	e.limit(t, "s2", orderbook.Ask, 2, 101)
	e.limit(t, "s3", orderbook.Ask, 2, 102)

	id, rested := e.limit(t, "buyer", orderbook.Bid, 5, 101)
	require.True(t, rested)

	trades := e.trades(t)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(100), trades[0].Price)
	assert.Equal(t, int64(101), trades[1].Price)

	o, ok := e.book.Order(id)
	require.True(t, ok)
	assert.Equal(t, int64(1), o.Size)
	assert.Equal(t, []orderbook.Level{{Price: 101, Size: 1, Orders: 1}}, e.book.Depth(orderbook.Bid, 0))
	assert.Equal(t, []orderbook.Level{{Price: 102, Size: 2, Orders: 1}}, e.book.Depth(orderbook.Ask, 0))
	assertNotCrossed(t, e.book)
}

func TestDepthOrdering(t *testing.T) {
	e := newEnv(t)
	for _, p := range []int64{97, 99, 98} {
		e.limit(t, "b", orderbook.Bid, 1, p)
	}
	for _, p := range []int64{103, 101, 102} {
		e.limit(t, "a", orderbook.Ask, 1, p)
	}

	bids := e.book.Depth(orderbook.Bid, 0)
	asks := e.book.Depth(orderbook.Ask, 2)
	require.Len(t, bids, 3)
	require.Len(t, asks, 2)
	assert.Equal(t, []int64{99, 98, 97}, []int64{bids[0].Price, bids[1].Price, bids[2].Price})
	assert.Equal(t, []int64{101, 102}, []int64{asks[0].Price, asks[1].Price})
}

func TestBookNeverCrossesAfterMatching(t *testing.T) {
	e := newEnv(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		side := orderbook.Side(rng.Intn(2))
		e.limit(t, fmt.Sprintf("u%d", rng.Intn(10)), side, int64(1+rng.Intn(20)), int64(90+rng.Intn(21)))
		assertNotCrossed(t, e.book)
	}
}

func TestOrderIDsStrictlyIncrease(t *testing.T) {
	e := newEnv(t)
	var last orderbook.OrderID

	next := func(id orderbook.OrderID) {
		t.Helper()
		require.Greater(t, id, last)
		last = id
	}

	id, _ := e.limit(t, "a", orderbook.Bid, 5, 100)
	next(id)
	require.NoError(t, e.book.CancelOrder("a", id))
	id, _ = e.limit(t, "a", orderbook.Bid, 5, 100)
	next(id)
	id, _ = e.limit(t, "b", orderbook.Ask, 5, 100) // fills
	next(id)
	next(e.stop(t, "c", orderbook.Bid, 1, 10))
	id, err := e.book.ExecuteMarketOrder(orderbook.NewMarketOrder(0, orderbook.Bid, 1, 0, "d"))
	require.ErrorIs(t, err, orderbook.ErrInsufficientLiquidity)
	next(id)
	require.Equal(t, last+1, e.book.NextOrderID())
	require.Equal(t, last+1, e.book.NextOrderID(), "looking does not reserve")
	id, _ = e.limit(t, "a", orderbook.Ask, 1, 120)
	next(id)
}

func TestIssuedOrderIDCannotBeReused(t *testing.T) {
	e := newEnv(t)
	a, _ := e.limit(t, "alice", orderbook.Bid, 5, 90)

	_, _, err := e.book.AddLimitOrder(orderbook.NewLimitOrder(a, orderbook.Bid, 7, 80, 0, "mallory"))
	require.ErrorIs(t, err, orderbook.ErrInvalidOrder)
	_, err = e.book.AddStopOrder(orderbook.NewStopOrder(a, orderbook.Ask, 1, 120, 0, "mallory"))
	require.ErrorIs(t, err, orderbook.ErrInvalidOrder)
	_, err = e.book.ExecuteMarketOrder(orderbook.NewMarketOrder(a, orderbook.Ask, 1, 0, "mallory"))
	require.ErrorIs(t, err, orderbook.ErrInvalidOrder)

	o, ok := e.book.Order(a)
	require.True(t, ok)
	assert.Equal(t, "alice", o.Owner)
	assert.Equal(t, []orderbook.Level{{Price: 90, Size: 5, Orders: 1}}, e.book.Depth(orderbook.Bid, 0))
	assert.Empty(t, e.book.UserOrderIDs("mallory"))
	assert.Empty(t, e.trades(t))
	require.NoError(t, e.book.CancelOrder("alice", a))

	fresh := a + 10
	id, rested, err := e.book.AddLimitOrder(orderbook.NewLimitOrder(fresh, orderbook.Bid, 1, 80, 0, "mallory"))
	require.NoError(t, err)
	assert.True(t, rested)
	assert.Equal(t, fresh, id)
	assert.Equal(t, fresh+1, e.book.NextOrderID())
}

func TestInvalidOrdersRejected(t *testing.T) {
	e := newEnv(t)

	_, _, err := e.book.AddLimitOrder(orderbook.NewLimitOrder(0, orderbook.Bid, 0, 100, 0, "a"))
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)
	_, _, err = e.book.AddLimitOrder(orderbook.NewLimitOrder(0, orderbook.Bid, 1, 0, 0, "a"))
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)
	_, _, err = e.book.AddLimitOrder(orderbook.NewLimitOrder(0, orderbook.Side(7), 1, 100, 0, "a"))
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)
	_, _, err = e.book.AddLimitOrder(orderbook.NewMarketOrder(0, orderbook.Bid, 1, 0, "a"))
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)
	_, err = e.book.AddStopOrder(orderbook.NewStopOrder(0, orderbook.Ask, 1, 0, 0, "a"))
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)

	assert.Empty(t, e.book.UserOrderIDs("a"))
	assert.Equal(t, orderbook.OrderID(1), e.book.NextOrderID(), "rejected orders must not consume ids")
}

// ---------------- Market orders ----------------

func TestMarketOrderOnEmptyBookRejected(t *testing.T) {
	e := newEnv(t)

	err := e.market("alice", orderbook.Ask, 5)

	require.ErrorIs(t, err, orderbook.ErrInsufficientLiquidity)
	assert.Empty(t, e.trades(t))
	assert.Empty(t, e.notes.owners())
}

func TestMarketOrderNeverPartiallyFills(t *testing.T) {
	e := newEnv(t)
	id, _ := e.limit(t, "seller", orderbook.Ask, 3, 50)

	rejected, err := e.book.ExecuteMarketOrder(orderbook.NewMarketOrder(0, orderbook.Bid, 5, 0, "buyer"))

	require.ErrorIs(t, err, orderbook.ErrInsufficientLiquidity)
	o, ok := e.book.Order(id)
	require.True(t, ok)
	assert.Equal(t, int64(3), o.Size)
	assert.Empty(t, e.trades(t))
	assert.Equal(t, int64(0), e.book.LastPrice())

	snap, err := e.store.LoadOrders()
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	require.Contains(t, snap.Asks, id)
	assert.Equal(t, int64(3), snap.Asks[id].Size)
	assert.Greater(t, snap.NextID, rejected, "the spent id is persisted")
}

func TestRejectedMarketOrderIDNotReissuedAfterRestart(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "seller", orderbook.Ask, 1, 50)

	rejected, err := e.book.ExecuteMarketOrder(orderbook.NewMarketOrder(0, orderbook.Bid, 5, 0, "buyer"))
	require.ErrorIs(t, err, orderbook.ErrInsufficientLiquidity)

	restored := orderbook.NewOrderBook(e.store, nil, orderbook.WithLogger(e.logger))
	assert.Greater(t, restored.NextOrderID(), rejected)
	id, _, err := restored.AddLimitOrder(orderbook.NewLimitOrder(0, orderbook.Bid, 1, 40, 0, "buyer"))
	require.NoError(t, err)
	assert.Greater(t, id, rejected)
}

func TestMarketOrderFillsAcrossLevels(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "s1", orderbook.Ask, 2, 100)
	e.limit(t, "s2", orderbook.Ask, 3, 101)
	e.limit(t, "s3", orderbook.Ask, 4, 102)

	require.NoError(t, e.market("buyer", orderbook.Bid, 5))

	trades := e.trades(t)
	require.Len(t, trades, 2)
	var filled int64
	for _, tr := range trades {
		filled += tr.Size
		assert.Equal(t, orderbook.Market, tr.Kind)
		assert.Equal(t, "buyer", tr.Buyer)
	}
	assert.Equal(t, int64(5), filled)
	assert.Equal(t, int64(100), trades[0].Price)
	assert.Equal(t, int64(101), trades[1].Price)
	assert.Equal(t, []orderbook.Level{{Price: 102, Size: 4, Orders: 1}}, e.book.Depth(orderbook.Ask, 0))
	assert.Empty(t, e.book.UserOrderIDs("buyer"))
}

func TestMarketSellHitsBestBidFirst(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "low", orderbook.Bid, 5, 90)
	e.limit(t, "high", orderbook.Bid, 5, 95)

	require.NoError(t, e.market("seller", orderbook.Ask, 6))

	trades := e.trades(t)
	require.Len(t, trades, 2)
	assert.Equal(t, "high", trades[0].Buyer)
	assert.Equal(t, int64(95), trades[0].Price)
	assert.Equal(t, "low", trades[1].Buyer)
	assert.Equal(t, int64(1), trades[1].Size)
	assert.Equal(t, int64(90), e.book.LastPrice())
}

// ---------------- Cancellation ----------------

func TestCancelOrder(t *testing.T) {
	e := newEnv(t)
	id, _ := e.limit(t, "alice", orderbook.Bid, 10, 100)
	other, _ := e.limit(t, "alice", orderbook.Bid, 1, 99)

	err := e.book.CancelOrder("mallory", id)
	require.ErrorIs(t, err, orderbook.ErrOrderNotFound)
	_, ok := e.book.Order(id)
	require.True(t, ok, "foreign cancel must not change the book")

	require.NoError(t, e.book.CancelOrder("alice", id))

	assert.Equal(t, []orderbook.OrderID{other}, e.book.UserOrderIDs("alice"))
	assert.Equal(t, []orderbook.Level{{Price: 99, Size: 1, Orders: 1}}, e.book.Depth(orderbook.Bid, 0))
	_, ok = e.book.Order(id)
	assert.False(t, ok)

	assert.ErrorIs(t, e.book.CancelOrder("alice", id), orderbook.ErrOrderNotFound)

	snap, err := e.store.LoadOrders()
	require.NoError(t, err)
	assert.NotContains(t, snap.Bids, id)
	assert.Contains(t, snap.Bids, other)
}

func TestCancelUnknownOrder(t *testing.T) {
	e := newEnv(t)
	assert.ErrorIs(t, e.book.CancelOrder("alice", 42), orderbook.ErrOrderNotFound)
}

func TestCancelDoesNotRemovePendingStop(t *testing.T) {
	e := newEnv(t)
	id := e.stop(t, "alice", orderbook.Bid, 1, 90)

	assert.ErrorIs(t, e.book.CancelOrder("alice", id), orderbook.ErrOrderNotFound)
	assert.Equal(t, []orderbook.OrderID{id}, e.book.UserOrderIDs("alice"))
	assert.Equal(t, 1, e.book.PendingStops())
}

// ---------------- Stop orders ----------------

func TestStopSellActivatesWhenPriceFalls(t *testing.T) {
	e := newEnv(t)
	bobID, _ := e.limit(t, "bob", orderbook.Bid, 10, 88)
	stopID := e.stop(t, "carol", orderbook.Bid, 2, 90)
	require.Equal(t, []orderbook.OrderID{stopID}, e.book.UserOrderIDs("carol"))

	e.limit(t, "dave", orderbook.Ask, 1, 88)

	trades := e.trades(t)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(88), trades[0].Price)

	act := trades[1]
	assert.Equal(t, stopID, act.TakerOrderID)
	assert.Equal(t, orderbook.Market, act.Kind)
	assert.Equal(t, "carol", act.Seller)
	assert.Equal(t, "bob", act.Buyer)
	assert.Equal(t, int64(2), act.Size)
	assert.Equal(t, int64(88), act.Price)

	assert.Equal(t, 0, e.book.PendingStops())
	assert.Empty(t, e.book.UserOrderIDs("carol"))
	bob, ok := e.book.Order(bobID)
	require.True(t, ok)
	assert.Equal(t, int64(7), bob.Size)

	stops, err := e.store.LoadStopOrders()
	require.NoError(t, err)
	assert.Empty(t, stops)
}

func TestStopBuyActivatesWhenPriceRises(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "eve", orderbook.Ask, 10, 100)
	stopID := e.stop(t, "frank", orderbook.Ask, 3, 100)

	e.limit(t, "gus", orderbook.Bid, 1, 100)

	trades := e.trades(t)
	require.Len(t, trades, 2)
	assert.Equal(t, stopID, trades[1].TakerOrderID)
	assert.Equal(t, "frank", trades[1].Buyer)
	assert.Equal(t, "eve", trades[1].Seller)
	assert.Equal(t, int64(3), trades[1].Size)
	assert.Equal(t, []orderbook.Level{{Price: 100, Size: 6, Orders: 1}}, e.book.Depth(orderbook.Ask, 0))
}

func TestStopTriggerBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		side    orderbook.Side
		trigger int64
		price   int64
		fires   bool
	}{
		{"bid trigger above price", orderbook.Bid, 90, 88, true},
		{"bid trigger at price", orderbook.Bid, 88, 88, true},
		{"bid trigger below price", orderbook.Bid, 87, 88, false},
		{"ask trigger below price", orderbook.Ask, 85, 88, true},
		{"ask trigger at price", orderbook.Ask, 88, 88, true},
		{"ask trigger above price", orderbook.Ask, 89, 88, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.stop(t, "s", tt.side, 1, tt.trigger)

			e.book.CheckAndActivateStopOrders(tt.price)

			if tt.fires {
				// Empty book: the activation is dropped, but it left the index.
				assert.Equal(t, 0, e.book.PendingStops())
				assert.Empty(t, e.book.UserOrderIDs("s"))
			} else {
				assert.Equal(t, 1, e.book.PendingStops())
			}
		})
	}
}

func TestStopNotTriggeredStaysPending(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "bob", orderbook.Bid, 10, 88)
	stopID := e.stop(t, "carol", orderbook.Bid, 2, 80)

	e.limit(t, "dave", orderbook.Ask, 1, 88)

	assert.Len(t, e.trades(t), 1)
	assert.Equal(t, 1, e.book.PendingStops())
	assert.Equal(t, []orderbook.OrderID{stopID}, e.book.UserOrderIDs("carol"))
	o, ok := e.book.Order(stopID)
	require.True(t, ok)
	assert.Equal(t, orderbook.Stop, o.Kind)
}

func TestActivatedStopWithoutLiquidityIsDropped(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "bob", orderbook.Bid, 2, 88)
	e.stop(t, "carol", orderbook.Bid, 50, 90)

	e.limit(t, "dave", orderbook.Ask, 1, 88)

	assert.Len(t, e.trades(t), 1)
	assert.Equal(t, 0, e.book.PendingStops())
	assert.Empty(t, e.book.UserOrderIDs("carol"))
	assert.Equal(t, []orderbook.Level{{Price: 88, Size: 1, Orders: 1}}, e.book.Depth(orderbook.Bid, 0))

	var dropped bool
	for _, entry := range e.hook.AllEntries() {
		if entry.Message == "stop order dropped" {
			dropped = true
		}
	}
	assert.True(t, dropped)
}

func TestActivatedStopTradesAgainstRestedRemainder(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "maker", orderbook.Ask, 2, 100)
	stopID := e.stop(t, "stopper", orderbook.Bid, 3, 100)

	takerID, rested := e.limit(t, "taker", orderbook.Bid, 10, 100)

	require.True(t, rested)
	trades := e.trades(t)
	require.Len(t, trades, 2)
	assert.Equal(t, "maker", trades[0].Seller)
	assert.Equal(t, stopID, trades[1].TakerOrderID)
	assert.Equal(t, "stopper", trades[1].Seller)
	assert.Equal(t, "taker", trades[1].Buyer)
	assert.Equal(t, int64(3), trades[1].Size)
	assert.Equal(t, int64(100), trades[1].Price)

	assert.Equal(t, 0, e.book.PendingStops())
	o, ok := e.book.Order(takerID)
	require.True(t, ok)
	assert.Equal(t, int64(5), o.Size)
	assert.Equal(t, []orderbook.Level{{Price: 100, Size: 5, Orders: 1}}, e.book.Depth(orderbook.Bid, 0))
	for _, entry := range e.hook.AllEntries() {
		assert.NotEqual(t, "stop order dropped", entry.Message)
	}

	snap, err := e.store.LoadOrders()
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Bids[takerID].Size)
}

func TestActivatedStopConsumesWholeRemainder(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "maker", orderbook.Ask, 2, 100)
	e.stop(t, "stopper", orderbook.Bid, 8, 100)

	takerID, rested := e.limit(t, "taker", orderbook.Bid, 10, 100)

	assert.False(t, rested, "the cascade filled what had rested")
	_, ok := e.book.Order(takerID)
	assert.False(t, ok)
	assert.Empty(t, e.book.Depth(orderbook.Bid, 0))
	assert.Empty(t, e.book.UserOrderIDs("taker"))
	assert.Len(t, e.trades(t), 2)

	snap, err := e.store.LoadOrders()
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

func TestStopCascade(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "b1", orderbook.Bid, 5, 90)
	b2, _ := e.limit(t, "b2", orderbook.Bid, 5, 85)
	s1 := e.stop(t, "s1", orderbook.Bid, 5, 90)
	s2 := e.stop(t, "s2", orderbook.Bid, 1, 85)

	e.limit(t, "x", orderbook.Ask, 1, 90)

	trades := e.trades(t)
	require.Len(t, trades, 4)
	assert.Equal(t, []int64{90, 90, 85, 85}, []int64{trades[0].Price, trades[1].Price, trades[2].Price, trades[3].Price})
	assert.Equal(t, s1, trades[1].TakerOrderID)
	assert.Equal(t, s1, trades[2].TakerOrderID)
	assert.Equal(t, s2, trades[3].TakerOrderID)

	assert.Equal(t, 0, e.book.PendingStops())
	assert.Equal(t, int64(85), e.book.LastPrice())
	o, ok := e.book.Order(b2)
	require.True(t, ok)
	assert.Equal(t, int64(3), o.Size)
}

// ---------------- Prices ----------------

func TestMarketPriceFallback(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, int64(0), e.book.MarketPrice())

	e.limit(t, "b", orderbook.Bid, 1, 90)
	assert.Equal(t, int64(90), e.book.MarketPrice())

	e.limit(t, "a", orderbook.Ask, 1, 110)
	assert.Equal(t, int64(100), e.book.MarketPrice())

	e.limit(t, "c", orderbook.Bid, 1, 110)
	assert.Equal(t, int64(110), e.book.MarketPrice())
	assert.Equal(t, int64(110), e.book.LastPrice())
}

func TestPriceLevelNotification(t *testing.T) {
	e := newEnv(t, orderbook.WithPriceAlertThreshold(100))
	e.limit(t, "a", orderbook.Ask, 1, 88)
	e.limit(t, "b", orderbook.Bid, 1, 88)
	assert.Empty(t, e.notes.prices)

	e.limit(t, "a", orderbook.Ask, 1, 100)
	e.limit(t, "b", orderbook.Bid, 1, 100)
	assert.Equal(t, []int64{100}, e.notes.prices)
}

// ---------------- Persistence ----------------

func TestRestoreFromLedger(t *testing.T) {
	e := newEnv(t)
	bid, _ := e.limit(t, "alice", orderbook.Bid, 4, 95)
	ask, _ := e.limit(t, "bob", orderbook.Ask, 3, 105)
	e.limit(t, "bob", orderbook.Ask, 1, 95) // trades at 95
	stop := e.stop(t, "carol", orderbook.Bid, 1, 80)

	restored := orderbook.NewOrderBook(e.store, nil, orderbook.WithLogger(e.logger))

	assert.Equal(t, e.book.Depth(orderbook.Bid, 0), restored.Depth(orderbook.Bid, 0))
	assert.Equal(t, e.book.Depth(orderbook.Ask, 0), restored.Depth(orderbook.Ask, 0))
	assert.Equal(t, []orderbook.OrderID{bid}, restored.UserOrderIDs("alice"))
	assert.Equal(t, []orderbook.OrderID{ask}, restored.UserOrderIDs("bob"))
	assert.Equal(t, []orderbook.OrderID{stop}, restored.UserOrderIDs("carol"))
	assert.Equal(t, 1, restored.PendingStops())
	assert.Equal(t, int64(95), restored.LastPrice())
	assert.Greater(t, restored.NextOrderID(), stop)
}

func TestRestoreKeepsTimePriority(t *testing.T) {
	e := newEnv(t)
	e.limit(t, "first", orderbook.Ask, 1, 100)
	e.limit(t, "second", orderbook.Ask, 1, 100)

	restored := orderbook.NewOrderBook(e.store, nil)
	_, _, err := restored.AddLimitOrder(orderbook.NewLimitOrder(0, orderbook.Bid, 1, 100, 0, "buyer"))
	require.NoError(t, err)

	trades := e.trades(t)
	require.Len(t, trades, 1)
	assert.Equal(t, "first", trades[0].Seller)
}

func TestLedgerFailureKeepsServing(t *testing.T) {
	e := newEnv(t)
	e.store.FailWrites(true)

	id, rested := e.limit(t, "alice", orderbook.Bid, 5, 100)
	require.True(t, rested)
	assert.Equal(t, []orderbook.OrderID{id}, e.book.UserOrderIDs("alice"))

	var failures int
	for _, entry := range e.hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Data["op"] == "orders" {
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	e.store.FailWrites(false)
	next, _ := e.limit(t, "alice", orderbook.Bid, 1, 99)

	snap, err := e.store.LoadOrders()
	require.NoError(t, err)
	assert.Contains(t, snap.Bids, id, "a later save persists the earlier order")
	assert.Contains(t, snap.Bids, next)
}

// ---------------- Concurrency ----------------

func TestConcurrentSubmissionsConserveSize(t *testing.T) {
	e := newEnv(t)

	const workers, perWorker = 8, 250
	var (
		wg        sync.WaitGroup
		submitted [workers]int64
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			owner := fmt.Sprintf("w%d", w)
			for i := 0; i < perWorker; i++ {
				size := int64(1 + rng.Intn(10))
				o := orderbook.NewLimitOrder(0, orderbook.Side(rng.Intn(2)), size, int64(95+rng.Intn(11)), 0, owner)
				if _, _, err := e.book.AddLimitOrder(o); err != nil {
					t.Error(err)
					return
				}
				submitted[w] += size
				if i%10 == 0 {
					e.book.UserOrderIDs(owner)
				}
			}
		}(w)
	}
	wg.Wait()

	var total, resting, traded int64
	for _, s := range submitted {
		total += s
	}
	for _, side := range []orderbook.Side{orderbook.Bid, orderbook.Ask} {
		for _, lvl := range e.book.Depth(side, 0) {
			resting += lvl.Size
		}
	}
	for _, tr := range e.trades(t) {
		traded += tr.Size
	}

	assert.Equal(t, total, resting+2*traded)
	assertNotCrossed(t, e.book)
	assert.Equal(t, orderbook.OrderID(workers*perWorker+1), e.book.NextOrderID())
}
