// Package events implements asynchronous delivery of session lifecycle
// notifications to pluggable sinks.
//
// The dispatcher decouples emitters from sink latency with a buffered
// channel and a single delivery goroutine. With DropIfFull set, a slow sink
// costs dropped events (counted) instead of blocked logins.
//
// # Architecture boundaries
//
// This package owns buffering and delivery only. Event construction and the
// public sink aliases live in the root package.
package events
