// Package schedule holds the durable dispatch queue.
//
// A schedule entry pairs a delivery key (local "YYYY-MM-DD HH:MM", minute
// granularity) with the ordered batch of content collected for it. Entries
// are appended by the collector when a collection window closes and removed
// by the dispatcher in the same operation that delivers them.
//
// Two drivers are supported:
//   - "file": one JSON file, rewritten in full on every mutation
//   - "sqlite": SQLite database file (optional build tag)
package schedule
