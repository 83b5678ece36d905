// Package ledger implements orderbook.Ledger: a pebble-backed store for
// resting orders, pending stops and the append-only trade history, and
// an in-memory variant with the same contract.
package ledger
