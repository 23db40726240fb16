package kv

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

type memEngine struct {
	mu     sync.Mutex
	trees  map[string]*memTree
	lastID atomic.Uint64
	closed atomic.Bool
}

// NewMemory returns a transient in-memory engine. Data is lost on Close.
func NewMemory() Engine {
	return &memEngine{trees: make(map[string]*memTree)}
}

func (e *memEngine) OpenTree(name string) (Tree, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.trees[name]
	if t == nil {
		t = &memTree{name: name}
		t.m.Store(skipmap.NewString[[]byte]())
		e.trees[name] = t
	}
	return t, nil
}

func (e *memEngine) GenerateID() (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	return e.lastID.Add(1), nil
}

func (e *memEngine) Close() error {
	e.closed.Store(true)
	e.mu.Lock()
	e.trees = nil
	e.mu.Unlock()
	return nil
}

// memTree keeps pairs in a concurrent skip list, which iterates in key order
// for free. Clear swaps in a fresh list instead of deleting key by key.
type memTree struct {
	name string
	m    atomic.Pointer[skipmap.StringMap[[]byte]]
	umu  sync.Mutex // serializes UpdateAndFetch read-modify-write cycles
}

func (t *memTree) Name() string { return t.name }

func (t *memTree) Get(key []byte) ([]byte, error) {
	v, ok := t.m.Load().Load(string(key))
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (t *memTree) Insert(key, value []byte) error {
	t.m.Load().Store(string(key), bytes.Clone(value))
	return nil
}

func (t *memTree) Remove(key []byte) ([]byte, error) {
	v, ok := t.m.Load().LoadAndDelete(string(key))
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (t *memTree) UpdateAndFetch(key []byte, fn func(old []byte) []byte) ([]byte, error) {
	t.umu.Lock()
	defer t.umu.Unlock()
	m := t.m.Load()
	old, _ := m.Load(string(key))
	updated := fn(old)
	if updated == nil {
		m.Delete(string(key))
		return nil, nil
	}
	m.Store(string(key), bytes.Clone(updated))
	return updated, nil
}

func (t *memTree) ForEach(fn func(key, value []byte) error) error {
	var err error
	t.m.Load().Range(func(key string, value []byte) bool {
		err = fn([]byte(key), value)
		return err == nil
	})
	return err
}

func (t *memTree) Len() (int, error) {
	return t.m.Load().Len(), nil
}

func (t *memTree) Clear() error {
	t.m.Store(skipmap.NewString[[]byte]())
	return nil
}
