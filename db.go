package tinybase

import (
	"log"
	"os"

	"tinybase/kv"
)

// Backend selects the storage engine a DB opens.
type Backend int

const (
	// Bolt is the default persistent backend.
	Bolt Backend = iota
	// Pebble is an LSM-based persistent backend.
	Pebble
	// Memory is a transient in-memory backend.
	Memory
)

// Options configure Open.
type Options struct {
	// Backend picks the storage engine. Ignored when path is empty, which
	// always opens a Memory engine.
	Backend Backend

	// Temporary removes the database files on Close.
	Temporary bool

	// Logf receives verbose log lines; defaults to log.Printf.
	Logf    func(format string, args ...any)
	Verbose bool

	// IsTesting trades durability for speed (bolt NoSync etc).
	IsTesting bool
}

// DB is a handle on one storage engine, from which typed tables are opened
// via OpenTable.
type DB struct {
	engine    kv.Engine
	path      string
	temporary bool
	logf      func(format string, args ...any)
	verbose   bool
	metrics   *dbMetrics
}

// Open opens a database at path, or an in-memory one when path is empty.
func Open(path string, opt Options) (*DB, error) {
	var engine kv.Engine
	var err error
	switch {
	case path == "" || opt.Backend == Memory:
		engine = kv.NewMemory()
	case opt.Backend == Pebble:
		engine, err = kv.OpenPebble(path, kv.PebbleOptions{NoSync: opt.IsTesting})
	default:
		engine, err = kv.OpenBolt(path, kv.BoltOptions{NoSync: opt.IsTesting})
	}
	if err != nil {
		return nil, err
	}
	db := New(engine, opt)
	db.path = path
	return db, nil
}

// New wraps an already-open engine. Close closes the engine but, not knowing
// its location, never removes files.
func New(engine kv.Engine, opt Options) *DB {
	logf := opt.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &DB{
		engine:    engine,
		temporary: opt.Temporary,
		logf:      logf,
		verbose:   opt.Verbose,
		metrics:   newDBMetrics(),
	}
}

// Engine returns the underlying storage engine.
func (db *DB) Engine() kv.Engine {
	return db.engine
}

// Close closes the engine and, for a temporary database, removes its files.
func (db *DB) Close() error {
	err := db.engine.Close()
	if db.temporary && db.path != "" {
		if rmErr := os.RemoveAll(db.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
