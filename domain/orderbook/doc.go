// Package orderbook implements the single-instrument matching engine.
// It keeps bids and asks in two red-black trees of FIFO price levels,
// matches limit and market orders with price-time priority and fires
// pending stop orders as the last traded price moves.
//
// The book is single-writer: one mutex covers matching, index updates
// and the ledger write, so every command is applied in the order its
// lock was acquired.
package orderbook
