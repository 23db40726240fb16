package kv

import (
	"bytes"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var metaBucket = []byte("__meta")

// BoltOptions tune the Bolt backend.
type BoltOptions struct {
	// NoSync skips fsync after commits. Only safe for tests.
	NoSync bool

	// MmapSize overrides the initial mmap size, in bytes.
	MmapSize int
}

type boltEngine struct {
	bdb *bbolt.DB
}

// OpenBolt opens a Bolt-backed engine at the given file path.
func OpenBolt(path string, opt BoltOptions) (Engine, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("kv: %w", err)
	}
	return &boltEngine{bdb: bdb}, nil
}

func (e *boltEngine) OpenTree(name string) (Tree, error) {
	err := e.bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &boltTree{e: e, name: name, buck: []byte(name)}, nil
}

func (e *boltEngine) GenerateID() (uint64, error) {
	var id uint64
	err := e.bdb.Update(func(btx *bbolt.Tx) error {
		var err error
		id, err = btx.Bucket(metaBucket).NextSequence()
		return err
	})
	return id, err
}

func (e *boltEngine) Close() error {
	return e.bdb.Close()
}

type boltTree struct {
	e    *boltEngine
	name string
	buck []byte
}

func (t *boltTree) Name() string { return t.name }

func (t *boltTree) Get(key []byte) ([]byte, error) {
	var value []byte
	err := t.e.bdb.View(func(btx *bbolt.Tx) error {
		if v := btx.Bucket(t.buck).Get(key); v != nil {
			value = bytes.Clone(v)
		}
		return nil
	})
	return value, err
}

func (t *boltTree) Insert(key, value []byte) error {
	return t.e.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(t.buck).Put(key, value)
	})
}

func (t *boltTree) Remove(key []byte) ([]byte, error) {
	var old []byte
	err := t.e.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(t.buck)
		if v := b.Get(key); v != nil {
			old = bytes.Clone(v)
			return b.Delete(key)
		}
		return nil
	})
	return old, err
}

func (t *boltTree) UpdateAndFetch(key []byte, fn func(old []byte) []byte) ([]byte, error) {
	var updated []byte
	err := t.e.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(t.buck)
		updated = fn(b.Get(key))
		if updated == nil {
			return b.Delete(key)
		}
		return b.Put(key, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (t *boltTree) ForEach(fn func(key, value []byte) error) error {
	return t.e.bdb.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(t.buck).ForEach(fn)
	})
}

func (t *boltTree) Len() (int, error) {
	var n int
	err := t.e.bdb.View(func(btx *bbolt.Tx) error {
		n = btx.Bucket(t.buck).Stats().KeyN
		return nil
	})
	return n, err
}

func (t *boltTree) Clear() error {
	return t.e.bdb.Update(func(btx *bbolt.Tx) error {
		if err := btx.DeleteBucket(t.buck); err != nil {
			return err
		}
		_, err := btx.CreateBucket(t.buck)
		return err
	})
}
