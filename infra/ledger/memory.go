package ledger

import (
	"sync"

	"crossbook/domain/orderbook"

	"github.com/cockroachdb/errors"
)

// ErrInjected is returned by a Memory ledger whose writes have been failed.
var ErrInjected = errors.New("ledger: injected write failure")

// Memory keeps the ledger in process memory. It follows the same contract
// as Pebble and is used by tests and by the "memory" driver.
type Memory struct {
	mu     sync.Mutex
	bids   map[orderbook.OrderID]orderbook.Order
	asks   map[orderbook.OrderID]orderbook.Order
	stops  map[orderbook.OrderID]orderbook.Order
	trades []orderbook.Trade
	nextID orderbook.OrderID

	failWrites bool
	saves      int
}

var _ orderbook.Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

// FailWrites makes every subsequent write return ErrInjected until reset.
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

// Saves counts successful SaveOrders and SaveStopOrders calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) SaveOrders(bids, asks map[orderbook.OrderID]orderbook.Order, nextID orderbook.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return ErrInjected
	}
	m.bids, m.asks = clone(bids), clone(asks)
	m.nextID = max(m.nextID, nextID)
	m.saves++
	return nil
}

func (m *Memory) LoadOrders() (orderbook.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return orderbook.Snapshot{
		Bids:   clone(m.bids),
		Asks:   clone(m.asks),
		NextID: m.nextID,
	}, nil
}

func (m *Memory) SaveStopOrders(stops map[orderbook.OrderID]orderbook.Order, nextID orderbook.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return ErrInjected
	}
	m.stops = clone(stops)
	m.nextID = max(m.nextID, nextID)
	m.saves++
	return nil
}

func (m *Memory) LoadStopOrders() (map[orderbook.OrderID]orderbook.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.stops), nil
}

func (m *Memory) SaveExecutedOrder(t orderbook.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return ErrInjected
	}
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) LoadExecutedOrders() ([]orderbook.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orderbook.Trade(nil), m.trades...), nil
}

func clone(src map[orderbook.OrderID]orderbook.Order) map[orderbook.OrderID]orderbook.Order {
	out := make(map[orderbook.OrderID]orderbook.Order, len(src))
	for id, o := range src {
		out[id] = o
	}
	return out
}
