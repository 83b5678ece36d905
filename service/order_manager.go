package service

import (
	"time"

	"crossbook/domain/history"
	"crossbook/domain/orderbook"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

/*
OrderManager is the only entry point the transport uses into the engine.

It validates raw requests, builds typed orders and delegates to the book.
It holds no book state of its own.
*/

// Status codes carried back to clients.
const (
	CodeOK    = 100
	CodeError = 101
)

// Book is the part of *orderbook.OrderBook the manager drives.
type Book interface {
	AddLimitOrder(o orderbook.Order) (orderbook.OrderID, bool, error)
	ExecuteMarketOrder(o orderbook.Order) (orderbook.OrderID, error)
	AddStopOrder(o orderbook.Order) (orderbook.OrderID, error)
	CancelOrder(owner string, id orderbook.OrderID) error
	UserOrderIDs(owner string) []orderbook.OrderID
}

// TradeSource reads the executed-order history.
type TradeSource interface {
	LoadExecutedOrders() ([]orderbook.Trade, error)
}

type OrderManager struct {
	book     Book
	trades   TradeSource
	validate *validator.Validate
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewOrderManager(book Book, trades TradeSource, log logrus.FieldLogger) *OrderManager {
	return &OrderManager{
		book:     book,
		trades:   trades,
		validate: validator.New(),
		log:      log.WithField("component", "order_manager"),
		now:      time.Now,
	}
}

//
// ──────────────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────────────
//

type marketRequest struct {
	Owner string `validate:"required"`
	Side  int    `validate:"oneof=0 1"`
	Size  int64  `validate:"gt=0"`
}

type pricedRequest struct {
	Owner string `validate:"required"`
	Side  int    `validate:"oneof=0 1"`
	Size  int64  `validate:"gt=0"`
	Price int64  `validate:"gt=0"`
}

type cancelRequest struct {
	Owner string `validate:"required"`
	ID    int64  `validate:"gt=0"`
}

func (m *OrderManager) check(req any) error {
	if err := m.validate.Struct(req); err != nil {
		return errors.Wrapf(orderbook.ErrInvalidOrder, "invalid request: %v", err)
	}
	return nil
}

// Placement is the outcome of a limit order.
type Placement struct {
	ID     orderbook.OrderID
	Rested bool
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// PlaceMarketOrder fills size units for owner at market or fails as a whole.
func (m *OrderManager) PlaceMarketOrder(side, size int, owner string) (orderbook.OrderID, error) {
	req := marketRequest{Owner: owner, Side: side, Size: int64(size)}
	if err := m.check(req); err != nil {
		return 0, err
	}
	o := orderbook.NewMarketOrder(0, orderbook.Side(side), req.Size, m.now().UnixMilli(), owner)
	return m.book.ExecuteMarketOrder(o)
}

func (m *OrderManager) PlaceLimitOrder(owner string, side, size, price int) (Placement, error) {
	req := pricedRequest{Owner: owner, Side: side, Size: int64(size), Price: int64(price)}
	if err := m.check(req); err != nil {
		return Placement{}, err
	}
	o := orderbook.NewLimitOrder(0, orderbook.Side(side), req.Size, req.Price, m.now().UnixMilli(), owner)
	id, rested, err := m.book.AddLimitOrder(o)
	if err != nil {
		return Placement{}, err
	}
	return Placement{ID: id, Rested: rested}, nil
}

func (m *OrderManager) PlaceStopOrder(owner string, side, size, trigger int) (orderbook.OrderID, error) {
	req := pricedRequest{Owner: owner, Side: side, Size: int64(size), Price: int64(trigger)}
	if err := m.check(req); err != nil {
		return 0, err
	}
	o := orderbook.NewStopOrder(0, orderbook.Side(side), req.Size, req.Price, m.now().UnixMilli(), owner)
	return m.book.AddStopOrder(o)
}

func (m *OrderManager) Cancel(owner string, id int) error {
	if err := m.check(cancelRequest{Owner: owner, ID: int64(id)}); err != nil {
		return err
	}
	return m.book.CancelOrder(owner, orderbook.OrderID(id))
}

// Orders lists owner's live order IDs.
func (m *OrderManager) Orders(owner string) []orderbook.OrderID {
	return m.book.UserOrderIDs(owner)
}

// PriceHistory returns daily candles for month across every year on record.
func (m *OrderManager) PriceHistory(month int) ([]history.Candle, error) {
	trades, err := m.loadTrades()
	if err != nil {
		return nil, err
	}
	return history.DailyCandles(trades, month)
}

// TradeHistory returns the trades executed in year/month.
func (m *OrderManager) TradeHistory(year, month int) ([]orderbook.Trade, error) {
	trades, err := m.loadTrades()
	if err != nil {
		return nil, err
	}
	return history.TradesInMonth(trades, year, month)
}

func (m *OrderManager) loadTrades() ([]orderbook.Trade, error) {
	if m.trades == nil {
		return nil, nil
	}
	trades, err := m.trades.LoadExecutedOrders()
	if err != nil {
		return nil, errors.Wrap(err, "read trade history")
	}
	return trades, nil
}

//
// ──────────────────────────────────────────────────────────
// Status-code surface
// ──────────────────────────────────────────────────────────
//

// HandleMarketOrder returns CodeOK when the order filled and CodeError
// otherwise.
func (m *OrderManager) HandleMarketOrder(side, size int, owner string) int {
	if _, err := m.PlaceMarketOrder(side, size, owner); err != nil {
		m.reject("market", owner, err)
		return CodeError
	}
	return CodeOK
}

// HandleLimitOrder returns the resting order ID, or CodeOK when the order
// filled immediately. Resting IDs can collide with the status codes, so
// callers that need to tell them apart use PlaceLimitOrder.
func (m *OrderManager) HandleLimitOrder(owner string, side, size, price int) int {
	p, err := m.PlaceLimitOrder(owner, side, size, price)
	if err != nil {
		m.reject("limit", owner, err)
		return CodeError
	}
	if p.Rested {
		return int(p.ID)
	}
	return CodeOK
}

func (m *OrderManager) HandleStopOrder(owner string, side, size, trigger int) int {
	id, err := m.PlaceStopOrder(owner, side, size, trigger)
	if err != nil {
		m.reject("stop", owner, err)
		return CodeError
	}
	return int(id)
}

func (m *OrderManager) HandleCancelOrder(owner string, id int) int {
	if err := m.Cancel(owner, id); err != nil {
		m.reject("cancel", owner, err)
		return CodeError
	}
	return CodeOK
}

func (m *OrderManager) HandlePrint(owner string) []orderbook.OrderID {
	return m.Orders(owner)
}

func (m *OrderManager) reject(kind, owner string, err error) {
	m.log.WithError(err).WithFields(logrus.Fields{
		"kind":  kind,
		"owner": owner,
	}).Info("request rejected")
}
