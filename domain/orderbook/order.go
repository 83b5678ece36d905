package orderbook

import "fmt"

// OrderID is shared by every order kind. IDs only grow.
type OrderID int64

// Side is encoded on the wire as 0 (ask) and 1 (bid).
type Side uint8

const (
	Ask Side = iota
	Bid
)

func (s Side) Opposite() Side {
	if s == Ask {
		return Bid
	}
	return Ask
}

func (s Side) Valid() bool {
	return s == Ask || s == Bid
}

func (s Side) String() string {
	switch s {
	case Ask:
		return "ask"
	case Bid:
		return "bid"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

type Kind uint8

const (
	Market Kind = iota
	Limit
	Stop
)

func (k Kind) String() string {
	switch k {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Order is a tagged variant over the three order kinds.
//
// LimitPrice is the execution price for Limit orders, the trigger price for
// Stop orders and zero for Market orders. Size shrinks as the order fills and
// an order with Size 0 is never held by any index.
type Order struct {
	ID         OrderID
	Side       Side
	Kind       Kind
	Size       int64
	LimitPrice int64
	Timestamp  int64 // unix millis
	Owner      string
}

func NewMarketOrder(id OrderID, side Side, size int64, ts int64, owner string) Order {
	return Order{ID: id, Side: side, Kind: Market, Size: size, Timestamp: ts, Owner: owner}
}

func NewLimitOrder(id OrderID, side Side, size, price int64, ts int64, owner string) Order {
	return Order{ID: id, Side: side, Kind: Limit, Size: size, LimitPrice: price, Timestamp: ts, Owner: owner}
}

func NewStopOrder(id OrderID, side Side, size, trigger int64, ts int64, owner string) Order {
	return Order{ID: id, Side: side, Kind: Stop, Size: size, LimitPrice: trigger, Timestamp: ts, Owner: owner}
}

// TriggerPrice is only meaningful for stop orders.
func (o Order) TriggerPrice() int64 {
	return o.LimitPrice
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s #%d %s size=%d price=%d", o.Kind, o.Side, o.ID, o.Owner, o.Size, o.LimitPrice)
}
