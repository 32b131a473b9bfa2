// Package store owns the watcher's process-wide state: the identifiers seen
// per source and the registered subscribers. Persistence backends live in
// internal/storage; this package must not import database drivers or
// concrete clients.
package store
