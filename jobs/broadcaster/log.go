package broadcaster

import (
	"crossbook/domain/orderbook"

	"github.com/sirupsen/logrus"
)

// Log is the notifier used when no brokers are configured; every
// notification becomes a log line.
type Log struct {
	log logrus.FieldLogger
}

var _ orderbook.Notifier = Log{}

func NewLog(log logrus.FieldLogger) Log {
	return Log{log: log.WithField("component", "notifier")}
}

func (l Log) NotifyTrade(owner, message string) {
	l.log.WithField("owner", owner).Info(message)
}

func (l Log) NotifyPriceLevel(price int64) {
	l.log.WithField("price", price).Info("price level reached")
}
