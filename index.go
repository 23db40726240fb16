package tinybase

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"tinybase/kv"
)

// Index is a derived, eventually-consistent mapping from a computed key to the
// ids of the records sharing that key. The key function is fixed at creation;
// the derived tree lives in the engine under "{table}_idx_{name}".
//
// An index never observes table writes directly. The table publishes change
// events to the index's subscription, and the index drains the queue right
// before serving any read ("commit-log replay"). This keeps table writes from
// taking every index's lock, at the cost of read-time catch-up.
//
// Close deregisters the index's subscription from the table; a closed index
// fails every operation with ErrIndexClosed.
type Index[T, I any] struct {
	table   *Table[T]
	name    string // full tree name, "{table}_idx_{name}"
	tree    kv.Tree
	keyFunc func(T) I
	sub     *subscription[T]

	mu     sync.Mutex // serializes replay, sync and derived-tree mutation
	closed atomic.Bool
}

// CreateIndex creates an index over the table using keyFunc to compute each
// record's index key. The index is fully rebuilt from the table's current
// contents before being returned, so it is complete even if the table already
// holds data.
func CreateIndex[T, I any](tbl *Table[T], name string, keyFunc func(T) I) (*Index[T, I], error) {
	fullName := fmt.Sprintf("%s_idx_%s", tbl.name, name)
	tree, err := tbl.db.engine.OpenTree(fullName)
	if err != nil {
		return nil, err
	}
	idx := &Index[T, I]{
		table:   tbl,
		name:    fullName,
		tree:    tree,
		keyFunc: keyFunc,
		sub:     tbl.subscribe(),
	}
	if err := idx.Sync(); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

// Name returns the index's full tree name.
func (idx *Index[T, I]) Name() string {
	return idx.name
}

// Close deregisters the index's subscription from its table. Further table
// writes will no longer queue events for it, and every operation on the index
// returns ErrIndexClosed. Closing twice is harmless.
func (idx *Index[T, I]) Close() error {
	if idx.closed.Swap(true) {
		return nil
	}
	idx.table.unsubscribe(idx.sub.id)
	idx.sub.discard()
	return nil
}

// Sync discards any pending events and rebuilds the derived tree from scratch
// by scanning every record in the table. Table writes are held off for the
// duration, so the rebuilt tree is an exact snapshot. Sync is idempotent.
func (idx *Index[T, I]) Sync() error {
	if idx.closed.Load() {
		return ErrIndexClosed
	}
	tbl := idx.table
	tbl.wmu.Lock()
	defer tbl.wmu.Unlock()
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Queued events are already reflected in the scan below; replaying them
	// afterwards would double-apply.
	idx.sub.discard()

	if err := idx.tree.Clear(); err != nil {
		return err
	}
	return tbl.root.ForEach(func(key, value []byte) error {
		id, err := decodeID(key)
		if err != nil {
			return err
		}
		var data T
		if err := decodeValue(value, &data); err != nil {
			return err
		}
		return idx.add(Record[T]{ID: id, Data: data})
	})
}

// Select returns the records whose computed key equals key, in the order
// their ids were added to the index. An id present in the index but already
// gone from the table (the index lagging a concurrent delete) is skipped.
func (idx *Index[T, I]) Select(key I) ([]Record[T], error) {
	ids, err := idx.SelectIDs(key)
	if err != nil {
		return nil, err
	}
	results := make([]Record[T], 0, len(ids))
	for _, id := range ids {
		rec, err := idx.table.Select(id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			results = append(results, *rec)
		}
	}
	return results, nil
}

// SelectIDs returns the ids currently indexed under key, oldest first.
func (idx *Index[T, I]) SelectIDs(key I) ([]uint64, error) {
	if idx.closed.Load() {
		return nil, ErrIndexClosed
	}
	if err := idx.commitLog(); err != nil {
		return nil, err
	}
	raw, err := encodeValue(key)
	if err != nil {
		return nil, err
	}
	return idx.bucket(raw)
}

// Delete removes every record matching key from the table and returns the
// removed records. Each deletion propagates back through events to this and
// every other index of the table.
func (idx *Index[T, I]) Delete(key I) ([]Record[T], error) {
	recs, err := idx.Select(key)
	if err != nil {
		return nil, err
	}
	removed := make([]Record[T], 0, len(recs))
	for _, r := range recs {
		rec, err := idx.table.Delete(r.ID)
		if err != nil {
			return removed, err
		}
		if rec != nil {
			removed = append(removed, *rec)
		}
	}
	return removed, nil
}

// Update applies fn to every record matching key via the table's batch
// update, with full constraint checking.
func (idx *Index[T, I]) Update(key I, fn func(T) T) ([]Record[T], error) {
	ids, err := idx.SelectIDs(key)
	if err != nil {
		return nil, err
	}
	return idx.table.Update(ids, fn)
}

// Exists returns the ids currently indexed under the record's computed key.
// An empty result means no record shares the key.
func (idx *Index[T, I]) Exists(rec Record[T]) ([]uint64, error) {
	return idx.recordIDs(rec.Data)
}

// commitLog drains all currently queued events and applies them to the
// derived tree in publish order. It never waits for new events. On failure
// the failing event and everything after it are requeued, so the applied
// state always corresponds to a prefix of the true event sequence and a
// transient failure heals on the next read. Re-applying a half-applied
// update is safe: remove is a no-op for an absent id.
func (idx *Index[T, I]) commitLog() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	evs := idx.sub.drain()
	for i, ev := range evs {
		var err error
		switch ev.op {
		case OpInsert:
			err = idx.add(ev.rec)
		case OpRemove:
			err = idx.remove(ev.rec)
		case OpUpdate:
			// A changed key relocates the id to a new bucket.
			err = idx.remove(Record[T]{ID: ev.rec.ID, Data: ev.old})
			if err == nil {
				err = idx.add(ev.rec)
			}
		}
		if err != nil {
			idx.sub.requeue(evs[i:])
			return err
		}
	}
	idx.table.metrics.replayedEvents.Add(uint64(len(evs)))
	return nil
}

// add appends the record's id to the bucket for its computed key, creating
// the bucket if absent. Callers hold idx.mu.
func (idx *Index[T, I]) add(rec Record[T]) error {
	key, err := idx.keyBytes(rec.Data)
	if err != nil {
		return err
	}
	ids, err := idx.bucket(key)
	if err != nil {
		return err
	}
	ids = append(ids, rec.ID)
	raw, err := encodeValue(ids)
	if err != nil {
		return err
	}
	return idx.tree.Insert(key, raw)
}

// remove deletes the record's id from the bucket for its computed key,
// dropping the bucket entirely when it becomes empty. Callers hold idx.mu.
func (idx *Index[T, I]) remove(rec Record[T]) error {
	key, err := idx.keyBytes(rec.Data)
	if err != nil {
		return err
	}
	ids, err := idx.bucket(key)
	if err != nil {
		return err
	}
	pos := slices.Index(ids, rec.ID)
	if pos < 0 {
		return nil
	}
	ids = slices.Delete(ids, pos, pos+1)
	if len(ids) == 0 {
		_, err = idx.tree.Remove(key)
		return err
	}
	raw, err := encodeValue(ids)
	if err != nil {
		return err
	}
	return idx.tree.Insert(key, raw)
}

func (idx *Index[T, I]) bucket(key []byte) ([]uint64, error) {
	raw, err := idx.tree.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var ids []uint64
	if err := decodeValue(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// anyIndex is the type-erased capability surface an index exposes to query
// conditions and unique constraints, which must hold indexes of differing key
// types together. The concrete key type is recovered via a checked assertion.
type anyIndex[T any] interface {
	search(key any) ([]Record[T], error)
	indexName() string
	recordIDs(data T) ([]uint64, error)
	keyBytes(data T) ([]byte, error)
}

func (idx *Index[T, I]) search(key any) ([]Record[T], error) {
	k, ok := key.(I)
	if !ok {
		return nil, fmt.Errorf("index %s: incompatible key type %T", idx.name, key)
	}
	return idx.Select(k)
}

func (idx *Index[T, I]) indexName() string {
	return idx.name
}

func (idx *Index[T, I]) recordIDs(data T) ([]uint64, error) {
	return idx.SelectIDs(idx.keyFunc(data))
}

func (idx *Index[T, I]) keyBytes(data T) ([]byte, error) {
	return encodeValue(idx.keyFunc(data))
}
