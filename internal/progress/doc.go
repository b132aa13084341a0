// Package progress carries harvest progress events from the session controller
// to pluggable sinks. Events are queued without blocking the harvest and
// delivered in batches on a background goroutine.
package progress
