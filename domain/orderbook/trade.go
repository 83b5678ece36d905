package orderbook

import "time"

// Trade is one matched segment between a taker and a resting maker.
// Trades are appended to the ledger and never mutated afterwards.
type Trade struct {
	TakerOrderID OrderID
	Buyer        string
	Seller       string
	Size         int64
	Price        int64
	Timestamp    int64 // unix millis
	Kind         Kind  // kind of the taker order
}

func (t Trade) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}

// Level is a read-only row of book depth.
type Level struct {
	Price  int64
	Size   int64
	Orders int
}
