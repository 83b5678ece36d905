// Package history aggregates executed trades into the daily price history
// and monthly trade listings served to clients.
package history

import (
	"sort"
	"time"

	"crossbook/domain/orderbook"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var ErrInvalidMonth = errors.New("history: month must be between 1 and 12")

// Candle summarises one UTC day of trading.
type Candle struct {
	Date   time.Time // midnight UTC
	Open   int64
	Close  int64
	High   int64
	Low    int64
	Volume int64
	Trades int
	VWAP   decimal.Decimal
}

// DailyCandles groups the trades executed in month, across every year on
// record, into one candle per UTC day, oldest day first.
func DailyCandles(trades []orderbook.Trade, month int) ([]Candle, error) {
	if month < 1 || month > 12 {
		return nil, errors.Wrapf(ErrInvalidMonth, "got %d", month)
	}

	inMonth := make([]orderbook.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Time().Month() == time.Month(month) {
			inMonth = append(inMonth, t)
		}
	}
	sort.SliceStable(inMonth, func(i, j int) bool { return inMonth[i].Timestamp < inMonth[j].Timestamp })

	var (
		candles  []Candle
		notional decimal.Decimal
	)
	flush := func() {
		if n := len(candles); n > 0 && candles[n-1].Volume > 0 {
			candles[n-1].VWAP = notional.Div(decimal.NewFromInt(candles[n-1].Volume)).Round(2)
		}
	}

	for _, t := range inMonth {
		ts := t.Time()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)

		if n := len(candles); n == 0 || !candles[n-1].Date.Equal(day) {
			flush()
			candles = append(candles, Candle{Date: day, Open: t.Price, High: t.Price, Low: t.Price})
			notional = decimal.Zero
		}

		c := &candles[len(candles)-1]
		c.Close = t.Price
		c.High = max(c.High, t.Price)
		c.Low = min(c.Low, t.Price)
		c.Volume += t.Size
		c.Trades++
		notional = notional.Add(decimal.NewFromInt(t.Price).Mul(decimal.NewFromInt(t.Size)))
	}
	flush()
	return candles, nil
}

// TradesInMonth returns the trades executed in the given UTC year and month,
// in ledger order.
func TradesInMonth(trades []orderbook.Trade, year, month int) ([]orderbook.Trade, error) {
	if month < 1 || month > 12 {
		return nil, errors.Wrapf(ErrInvalidMonth, "got %d", month)
	}
	var out []orderbook.Trade
	for _, t := range trades {
		ts := t.Time()
		if ts.Year() == year && ts.Month() == time.Month(month) {
			out = append(out, t)
		}
	}
	return out, nil
}
