// Package broadcaster implements a background job that publishes trade
// confirmations and price-level ticks queued by the order book to Kafka.
// Delivery is best effort: a full queue drops, a failed publish is logged.
package broadcaster
