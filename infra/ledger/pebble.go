package ledger

import (
	"fmt"
	"sync"

	"crossbook/domain/orderbook"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// -------------------- Keys --------------------

var (
	prefixBid   = []byte("book/bid/")
	prefixAsk   = []byte("book/ask/")
	prefixStop  = []byte("stop/")
	prefixTrade = []byte("trade/")

	keyNextOrderID = []byte("meta/next_order_id")
	keyTradeSeq    = []byte("meta/trade_seq")
)

func idKey(prefix []byte, id uint64) []byte {
	return fmt.Appendf(append([]byte(nil), prefix...), "%020d", id)
}

// upperBound is the smallest key greater than every key under prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

// -------------------- Ledger --------------------

// Pebble is the durable ledger. Resting orders and stops are rewritten as a
// whole on every save; executed trades are appended under their own counter.
type Pebble struct {
	db *pebble.DB

	mu       sync.Mutex
	nextID   uint64
	tradeSeq uint64
}

var _ orderbook.Ledger = (*Pebble)(nil)

// Open opens (or creates) a ledger in dir on the local disk.
func Open(dir string) (*Pebble, error) {
	return OpenFS(dir, vfs.Default)
}

// OpenFS opens a ledger on fs; tests pass vfs.NewMem().
func OpenFS(dir string, fs vfs.FS) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{FS: fs})
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger at %s", dir)
	}
	p := &Pebble{db: db}

	if p.nextID, err = p.readCounter(keyNextOrderID); err != nil {
		_ = db.Close()
		return nil, err
	}
	if p.tradeSeq, err = p.readCounter(keyTradeSeq); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

// -------------------- Writes --------------------

func (p *Pebble) SaveOrders(bids, asks map[orderbook.OrderID]orderbook.Order, nextID orderbook.OrderID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange(prefixBid, upperBound(prefixBid), nil); err != nil {
		return errors.Wrap(err, "clear bids")
	}
	if err := b.DeleteRange(prefixAsk, upperBound(prefixAsk), nil); err != nil {
		return errors.Wrap(err, "clear asks")
	}
	if err := putOrders(b, prefixBid, bids); err != nil {
		return err
	}
	if err := putOrders(b, prefixAsk, asks); err != nil {
		return err
	}
	next := p.bumpNextID(b, nextID)

	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit orders")
	}
	p.nextID = next
	return nil
}

func (p *Pebble) SaveStopOrders(stops map[orderbook.OrderID]orderbook.Order, nextID orderbook.OrderID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange(prefixStop, upperBound(prefixStop), nil); err != nil {
		return errors.Wrap(err, "clear stops")
	}
	if err := putOrders(b, prefixStop, stops); err != nil {
		return err
	}
	next := p.bumpNextID(b, nextID)

	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit stops")
	}
	p.nextID = next
	return nil
}

func (p *Pebble) SaveExecutedOrder(t orderbook.Trade) error {
	val, err := encodeTrade(t)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seq := p.tradeSeq + 1
	b := p.db.NewBatch()
	defer b.Close()

	if err := b.Set(idKey(prefixTrade, seq), val, nil); err != nil {
		return errors.Wrap(err, "stage trade")
	}
	if err := b.Set(keyTradeSeq, encodeUint64(seq), nil); err != nil {
		return errors.Wrap(err, "stage trade sequence")
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrapf(err, "commit trade %d", seq)
	}
	p.tradeSeq = seq
	return nil
}

// bumpNextID stages the next-ID counter if it moves forward and returns the
// value that will be current after commit.
func (p *Pebble) bumpNextID(b *pebble.Batch, nextID orderbook.OrderID) uint64 {
	if nextID <= 0 || uint64(nextID) <= p.nextID {
		return p.nextID
	}
	_ = b.Set(keyNextOrderID, encodeUint64(uint64(nextID)), nil)
	return uint64(nextID)
}

func putOrders(b *pebble.Batch, prefix []byte, orders map[orderbook.OrderID]orderbook.Order) error {
	for id, o := range orders {
		o.ID = id
		val, err := encodeOrder(o)
		if err != nil {
			return err
		}
		if err := b.Set(idKey(prefix, uint64(id)), val, nil); err != nil {
			return errors.Wrapf(err, "stage order %d", id)
		}
	}
	return nil
}

// -------------------- Reads --------------------

func (p *Pebble) LoadOrders() (orderbook.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bids, err := p.scanOrders(prefixBid)
	if err != nil {
		return orderbook.Snapshot{}, errors.Wrap(err, "load bids")
	}
	asks, err := p.scanOrders(prefixAsk)
	if err != nil {
		return orderbook.Snapshot{}, errors.Wrap(err, "load asks")
	}
	return orderbook.Snapshot{
		Bids:   bids,
		Asks:   asks,
		NextID: orderbook.OrderID(p.nextID),
	}, nil
}

func (p *Pebble) LoadStopOrders() (map[orderbook.OrderID]orderbook.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stops, err := p.scanOrders(prefixStop)
	if err != nil {
		return nil, errors.Wrap(err, "load stops")
	}
	return stops, nil
}

// LoadExecutedOrders returns every trade in the order it was appended.
func (p *Pebble) LoadExecutedOrders() ([]orderbook.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var trades []orderbook.Trade
	err := p.scan(prefixTrade, func(key, val []byte) error {
		t, err := decodeTrade(val)
		if err != nil {
			return errors.Wrapf(err, "trade %s", key)
		}
		trades = append(trades, t)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load trades")
	}
	return trades, nil
}

func (p *Pebble) scanOrders(prefix []byte) (map[orderbook.OrderID]orderbook.Order, error) {
	out := make(map[orderbook.OrderID]orderbook.Order)
	err := p.scan(prefix, func(key, val []byte) error {
		o, err := decodeOrder(val)
		if err != nil {
			return errors.Wrapf(err, "order %s", key)
		}
		out[o.ID] = o
		return nil
	})
	return out, err
}

func (p *Pebble) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *Pebble) readCounter(key []byte) (uint64, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", key)
	}
	defer closer.Close()
	return decodeUint64(val)
}
