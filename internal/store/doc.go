// Package store keeps the latest snapshot of every watch in memory and
// publishes changes.
//
// [MemoryStore] is the only implementation. Subscribers receive updates on
// buffered channels with non-blocking sends, so a slow subscriber misses
// updates instead of stalling the controllers that publish them.
package store
