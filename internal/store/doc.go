// Package store owns every cached academic record and is the only writer of the
// persistence backend. Backend implementations live in other packages; this package
// must not import database drivers or concrete clients.
//
// All cache reads and every logical write take the Store mutex exactly once. Callers
// must never perform network I/O while holding a value obtained under that lock in a
// way that would require re-entering the Store.
package store
