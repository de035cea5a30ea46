// Package cascadb is the engine facade: it wires layout, cache, and tree
// together behind the four operations spec.md §6 names (Open, Put, Del,
// Get) plus Flush and Close, the way every embedded store in the
// reference corpus exposes one top-level constructor and a handful of
// methods rather than making callers assemble the layers themselves.
package cascadb

import (
	"fmt"
	"sync"

	"github.com/weicao/cascadb/cache"
	"github.com/weicao/cascadb/cascaerr"
	"github.com/weicao/cascadb/cascadblog"
	"github.com/weicao/cascadb/iofile"
	"github.com/weicao/cascadb/layout"
	"github.com/weicao/cascadb/options"
	"github.com/weicao/cascadb/tree"
)

// DB is one open database file. Safe for concurrent use by multiple
// goroutines, matching spec.md §5's concurrency model.
type DB struct {
	layout *layout.Layout
	cache  *cache.Cache
	tree   *tree.Tree
	log    cascadblog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if absent) the database file at name, recovering
// its most recent durable generation if one exists, and starts the
// background writeback/eviction goroutine. Callers must Close the
// returned DB to stop that goroutine and flush pending writes.
func Open(name string, o options.Options) (*DB, error) {
	return OpenWith(iofile.OSDirectory{}, name, o, cascadblog.Nop)
}

// OpenWith is Open with an injectable Directory and Logger; Open calls
// it with the OS directory and a no-op logger.
func OpenWith(dir iofile.Directory, name string, o options.Options, log cascadblog.Logger) (*DB, error) {
	o = o.Normalize()
	log = cascadblog.Of(log)

	l, err := layout.Open(dir, name)
	if err != nil {
		return nil, fmt.Errorf("cascadb: open %s: %w", name, err)
	}
	c := cache.New(l, o, log)
	t, err := tree.Open(c, o)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("cascadb: open %s: %w", name, err)
	}
	c.StartWriteback()

	return &DB{layout: l, cache: c, tree: t, log: log}, nil
}

// Put inserts or overwrites key with value.
func (db *DB) Put(key, value []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return cascaerr.ErrClosed
	}
	return db.tree.Put(key, value)
}

// Del removes key, if present. Deleting an absent key is not an error.
func (db *DB) Del(key []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return cascaerr.ErrClosed
	}
	return db.tree.Del(key)
}

// Get looks up key, returning (value, true, nil) on a hit, (nil, false,
// nil) on a miss, and a non-nil error only on a genuine I/O or decode
// failure.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, false, cascaerr.ErrClosed
	}
	return db.tree.Get(key)
}

// Flush durably writes every dirty node and the current index, without
// closing the database.
func (db *DB) Flush() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return cascaerr.ErrClosed
	}
	return db.tree.Flush()
}

// Stats returns a snapshot of the backing layout's index, for
// diagnostic tooling (cmd/cascactl inspect).
func (db *DB) Stats() layout.Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.layout.Inspect()
}

// Close stops the background writeback goroutine, flushes everything
// durably, and closes the backing file. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.tree.Close()
}
