package orderbook

// Snapshot is the resting state handed back by a ledger on start-up.
type Snapshot struct {
	Bids   map[OrderID]Order
	Asks   map[OrderID]Order
	NextID OrderID
}

// Ledger is the durable store behind the book. Every call happens while the
// book lock is held, so implementations need no coordination with the book.
type Ledger interface {
	SaveOrders(bids, asks map[OrderID]Order, nextID OrderID) error
	LoadOrders() (Snapshot, error)
	SaveStopOrders(stops map[OrderID]Order, nextID OrderID) error
	LoadStopOrders() (map[OrderID]Order, error)
	SaveExecutedOrder(t Trade) error
	LoadExecutedOrders() ([]Trade, error)
}

// Notifier delivers best-effort messages. Implementations must not block.
type Notifier interface {
	NotifyTrade(owner, message string)
	NotifyPriceLevel(price int64)
}

// Metrics receives engine counters. All methods are called with the book
// lock held.
type Metrics interface {
	TradeExecuted(size, price int64)
	MarketOrderRejected()
	StopActivated()
	StopDropped()
	PersistFailed(op string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyTrade(string, string) {}
func (nopNotifier) NotifyPriceLevel(int64)     {}

type nopMetrics struct{}

func (nopMetrics) TradeExecuted(int64, int64) {}
func (nopMetrics) MarketOrderRejected()       {}
func (nopMetrics) StopActivated()             {}
func (nopMetrics) StopDropped()               {}
func (nopMetrics) PersistFailed(string)       {}
