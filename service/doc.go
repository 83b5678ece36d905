// Package service is the translation layer between transports and the
// matching engine. It validates raw requests, builds typed orders and
// maps engine outcomes to the status codes clients understand.
//
// It holds no book state of its own.
package service
