package kv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
)

// idBlockSize is how many identifiers are reserved per durable counter write.
// Reserving a block keeps GenerateID off the sync path; unissued identifiers
// from a reserved block are abandoned on restart, never reused.
const idBlockSize = 512

var pebbleIDKey = []byte("\x00ids")

// PebbleOptions tune the Pebble backend.
type PebbleOptions struct {
	// NoSync makes regular writes asynchronous. Identifier block reservations
	// are always synced regardless.
	NoSync bool
}

type pebbleEngine struct {
	pdb *pebble.DB
	wo  *pebble.WriteOptions

	mu     sync.Mutex
	trees  map[string]*pebbleTree
	closed bool

	idMu   sync.Mutex
	nextID uint64
	idCeil uint64
}

// OpenPebble opens a Pebble-backed engine at the given directory path.
func OpenPebble(path string, opt PebbleOptions) (Engine, error) {
	pdb, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}
	e := &pebbleEngine{
		pdb:   pdb,
		wo:    pebble.Sync,
		trees: make(map[string]*pebbleTree),
	}
	if opt.NoSync {
		e.wo = pebble.NoSync
	}

	stored, closer, err := pdb.Get(pebbleIDKey)
	if err == nil {
		if len(stored) == 8 {
			e.nextID = binary.BigEndian.Uint64(stored)
			e.idCeil = e.nextID
		}
		closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		pdb.Close()
		return nil, fmt.Errorf("kv: %w", err)
	}
	return e, nil
}

func (e *pebbleEngine) OpenTree(name string) (Tree, error) {
	if name == "" {
		return nil, fmt.Errorf("kv: empty tree name")
	}
	// A tree's key space is [name+0x00, name+0x01); a 0x00 or 0x01 byte in a
	// name would nest its keys inside a shorter tree's range.
	if strings.ContainsAny(name, "\x00\x01") {
		return nil, fmt.Errorf("kv: invalid tree name %q", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	t := e.trees[name]
	if t == nil {
		prefix := append([]byte(name), 0)
		upper := append([]byte(name), 1)
		t = &pebbleTree{e: e, name: name, prefix: prefix, upper: upper}
		e.trees[name] = t
	}
	return t, nil
}

func (e *pebbleEngine) GenerateID() (uint64, error) {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	if e.nextID >= e.idCeil {
		ceil := e.idCeil + idBlockSize
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], ceil)
		if err := e.pdb.Set(pebbleIDKey, buf[:], pebble.Sync); err != nil {
			return 0, err
		}
		e.idCeil = ceil
	}
	e.nextID++
	return e.nextID, nil
}

func (e *pebbleEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.trees = nil
	e.mu.Unlock()
	return e.pdb.Close()
}

type pebbleTree struct {
	e      *pebbleEngine
	name   string
	prefix []byte // name + 0x00, prepended to every key
	upper  []byte // name + 0x01, exclusive iteration bound
	umu    sync.Mutex
}

func (t *pebbleTree) Name() string { return t.name }

func (t *pebbleTree) fullKey(key []byte) []byte {
	return append(bytes.Clone(t.prefix), key...)
}

func (t *pebbleTree) Get(key []byte) ([]byte, error) {
	v, closer, err := t.e.pdb.Get(t.fullKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	value := bytes.Clone(v)
	closer.Close()
	return value, nil
}

func (t *pebbleTree) Insert(key, value []byte) error {
	return t.e.pdb.Set(t.fullKey(key), value, t.e.wo)
}

func (t *pebbleTree) Remove(key []byte) ([]byte, error) {
	fk := t.fullKey(key)
	old, closer, err := t.e.pdb.Get(fk)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	value := bytes.Clone(old)
	closer.Close()
	if err := t.e.pdb.Delete(fk, t.e.wo); err != nil {
		return nil, err
	}
	return value, nil
}

func (t *pebbleTree) UpdateAndFetch(key []byte, fn func(old []byte) []byte) ([]byte, error) {
	t.umu.Lock()
	defer t.umu.Unlock()
	fk := t.fullKey(key)
	var old []byte
	v, closer, err := t.e.pdb.Get(fk)
	if err == nil {
		old = bytes.Clone(v)
		closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return nil, err
	}
	updated := fn(old)
	if updated == nil {
		if err := t.e.pdb.Delete(fk, t.e.wo); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := t.e.pdb.Set(fk, updated, t.e.wo); err != nil {
		return nil, err
	}
	return updated, nil
}

func (t *pebbleTree) ForEach(fn func(key, value []byte) error) error {
	it, err := t.e.pdb.NewIter(&pebble.IterOptions{
		LowerBound: t.prefix,
		UpperBound: t.upper,
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if err := fn(it.Key()[len(t.prefix):], it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (t *pebbleTree) Len() (int, error) {
	var n int
	err := t.ForEach(func(key, value []byte) error {
		n++
		return nil
	})
	return n, err
}

func (t *pebbleTree) Clear() error {
	return t.e.pdb.DeleteRange(t.prefix, t.upper, t.e.wo)
}
