package ledger

import (
	"encoding/binary"
	"math"

	"crossbook/domain/orderbook"

	"github.com/cockroachdb/errors"
)

var errCorrupt = errors.New("ledger: corrupt record")

// order layout:
// [id:8][side:1][kind:1][size:8][price:8][ts:8][owner_len:2][owner]
const orderFixed = 8 + 1 + 1 + 8 + 8 + 8

func encodeOrder(o orderbook.Order) ([]byte, error) {
	if len(o.Owner) > math.MaxUint16 {
		return nil, errors.Newf("ledger: owner of order %d is too long", o.ID)
	}
	buf := make([]byte, orderFixed, orderFixed+2+len(o.Owner))
	binary.BigEndian.PutUint64(buf[0:8], uint64(o.ID))
	buf[8] = byte(o.Side)
	buf[9] = byte(o.Kind)
	binary.BigEndian.PutUint64(buf[10:18], uint64(o.Size))
	binary.BigEndian.PutUint64(buf[18:26], uint64(o.LimitPrice))
	binary.BigEndian.PutUint64(buf[26:34], uint64(o.Timestamp))
	return appendString(buf, o.Owner), nil
}

func decodeOrder(b []byte) (orderbook.Order, error) {
	if len(b) < orderFixed {
		return orderbook.Order{}, errors.Wrapf(errCorrupt, "order record is %d bytes", len(b))
	}
	owner, rest, err := readString(b[orderFixed:])
	if err != nil {
		return orderbook.Order{}, err
	}
	if len(rest) != 0 {
		return orderbook.Order{}, errors.Wrap(errCorrupt, "trailing bytes after order")
	}
	return orderbook.Order{
		ID:         orderbook.OrderID(binary.BigEndian.Uint64(b[0:8])),
		Side:       orderbook.Side(b[8]),
		Kind:       orderbook.Kind(b[9]),
		Size:       int64(binary.BigEndian.Uint64(b[10:18])),
		LimitPrice: int64(binary.BigEndian.Uint64(b[18:26])),
		Timestamp:  int64(binary.BigEndian.Uint64(b[26:34])),
		Owner:      owner,
	}, nil
}

// trade layout:
// [taker:8][kind:1][size:8][price:8][ts:8][buyer_len:2][buyer][seller_len:2][seller]
const tradeFixed = 8 + 1 + 8 + 8 + 8

func encodeTrade(t orderbook.Trade) ([]byte, error) {
	if len(t.Buyer) > math.MaxUint16 || len(t.Seller) > math.MaxUint16 {
		return nil, errors.Newf("ledger: counterparty of trade %d is too long", t.TakerOrderID)
	}
	buf := make([]byte, tradeFixed, tradeFixed+4+len(t.Buyer)+len(t.Seller))
	binary.BigEndian.PutUint64(buf[0:8], uint64(t.TakerOrderID))
	buf[8] = byte(t.Kind)
	binary.BigEndian.PutUint64(buf[9:17], uint64(t.Size))
	binary.BigEndian.PutUint64(buf[17:25], uint64(t.Price))
	binary.BigEndian.PutUint64(buf[25:33], uint64(t.Timestamp))
	buf = appendString(buf, t.Buyer)
	return appendString(buf, t.Seller), nil
}

func decodeTrade(b []byte) (orderbook.Trade, error) {
	if len(b) < tradeFixed {
		return orderbook.Trade{}, errors.Wrapf(errCorrupt, "trade record is %d bytes", len(b))
	}
	buyer, rest, err := readString(b[tradeFixed:])
	if err != nil {
		return orderbook.Trade{}, err
	}
	seller, rest, err := readString(rest)
	if err != nil {
		return orderbook.Trade{}, err
	}
	if len(rest) != 0 {
		return orderbook.Trade{}, errors.Wrap(errCorrupt, "trailing bytes after trade")
	}
	return orderbook.Trade{
		TakerOrderID: orderbook.OrderID(binary.BigEndian.Uint64(b[0:8])),
		Kind:         orderbook.Kind(b[8]),
		Size:         int64(binary.BigEndian.Uint64(b[9:17])),
		Price:        int64(binary.BigEndian.Uint64(b[17:25])),
		Timestamp:    int64(binary.BigEndian.Uint64(b[25:33])),
		Buyer:        buyer,
		Seller:       seller,
	}, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, errors.Wrap(errCorrupt, "missing string length")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	if len(b) < 2+n {
		return "", nil, errors.Wrapf(errCorrupt, "string wants %d bytes, have %d", n, len(b)-2)
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Wrapf(errCorrupt, "counter is %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
