package tinybase

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"tinybase/kv"
)

// Table is the primary store of typed records for one logical entity.
//
// A table owns its primary tree (encoded id → encoded data), the ordered list
// of constraints, and the set of subscriptions feeding change events to the
// indexes derived from it. It is the single point where constraints are
// enforced: a record is written, and its event published, only after every
// constraint has passed.
//
// All methods are safe for concurrent use. Writes are serialized per table so
// that a unique-constraint check and the write it guards are atomic with
// respect to other writers; reads never take the write lock.
type Table[T any] struct {
	db   *DB
	root kv.Tree
	name string

	subs *xsync.MapOf[uuid.UUID, *subscription[T]]

	cmu         sync.RWMutex
	constraints []Constraint[T]

	// wmu serializes the check-constraints → write → publish sequence of
	// Insert, Update and Delete, and Sync's rebuild. Without it two
	// concurrent inserts racing on the same unique key could both pass the
	// index lookup before either commits.
	wmu sync.Mutex

	metrics *tableMetrics
}

// OpenTable opens the named table, creating its primary tree if needed.
func OpenTable[T any](db *DB, name string) (*Table[T], error) {
	root, err := db.engine.OpenTree(name)
	if err != nil {
		return nil, err
	}
	return &Table[T]{
		db:      db,
		root:    root,
		name:    name,
		subs:    xsync.NewMapOf[uuid.UUID, *subscription[T]](),
		metrics: db.metrics.table(name),
	}, nil
}

// Name returns the table name.
func (tbl *Table[T]) Name() string {
	return tbl.name
}

// Len returns the number of records in the table.
func (tbl *Table[T]) Len() (int, error) {
	return tbl.root.Len()
}

// Insert adds a new record and returns its engine-assigned id.
//
// Every registered constraint is checked against the candidate first; on a
// unique violation Insert returns an *ExistsError, on a predicate violation
// ErrCondition, and in both cases nothing is written.
func (tbl *Table[T]) Insert(value T) (uint64, error) {
	tbl.wmu.Lock()
	defer tbl.wmu.Unlock()

	id, err := tbl.db.engine.GenerateID()
	if err != nil {
		return 0, err
	}
	rec := Record[T]{ID: id, Data: value}

	if err := tbl.checkConstraints(rec, nil); err != nil {
		tbl.metrics.constraintFailures.Add(1)
		return 0, err
	}

	raw, err := encodeValue(value)
	if err != nil {
		return 0, err
	}
	if err := tbl.root.Insert(encodeID(id), raw); err != nil {
		return 0, err
	}
	tbl.publish(event[T]{op: OpInsert, rec: rec})
	tbl.metrics.inserts.Add(1)

	if tbl.db.verbose {
		tbl.db.logf("db: INSERT %s/%d => %s", tbl.name, id, loggableVal(value))
	}
	return id, nil
}

// Select returns the record with the given id, or nil if there is none.
func (tbl *Table[T]) Select(id uint64) (*Record[T], error) {
	raw, err := tbl.root.Get(encodeID(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var data T
	if err := decodeValue(raw, &data); err != nil {
		return nil, err
	}
	return &Record[T]{ID: id, Data: data}, nil
}

// Delete removes the record with the given id and returns it, or nil if there
// was none. Deleting a missing id is not an error.
func (tbl *Table[T]) Delete(id uint64) (*Record[T], error) {
	tbl.wmu.Lock()
	defer tbl.wmu.Unlock()

	// Decode before removing: a corrupt record stays in place, and no Remove
	// event is published for a record the indexes will never see leave.
	raw, err := tbl.root.Get(encodeID(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var data T
	if err := decodeValue(raw, &data); err != nil {
		return nil, err
	}
	if _, err := tbl.root.Remove(encodeID(id)); err != nil {
		return nil, err
	}
	rec := Record[T]{ID: id, Data: data}
	tbl.publish(event[T]{op: OpRemove, rec: rec})
	tbl.metrics.deletes.Add(1)

	if tbl.db.verbose {
		tbl.db.logf("db: DELETE %s/%d", tbl.name, id)
	}
	return &rec, nil
}

// Update applies fn to every listed record that currently exists and commits
// the resulting batch atomically with respect to constraints: every candidate
// is checked against the current table state and against the other candidates
// of the same batch before anything is written. A collision with existing
// data fails with *ExistsError; two candidates colliding with each other fail
// with ErrBatchConstraints; either way no record is modified.
//
// Ids with no current record are skipped. Returns the updated records.
func (tbl *Table[T]) Update(ids []uint64, fn func(T) T) ([]Record[T], error) {
	tbl.wmu.Lock()
	defer tbl.wmu.Unlock()

	var cands []Record[T]
	var olds []T
	for _, id := range ids {
		raw, err := tbl.root.Get(encodeID(id))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		var old T
		if err := decodeValue(raw, &old); err != nil {
			return nil, err
		}
		cands = append(cands, Record[T]{ID: id, Data: fn(old)})
		olds = append(olds, old)
	}

	for _, cand := range cands {
		if err := tbl.checkConstraints(cand, cands); err != nil {
			tbl.metrics.constraintFailures.Add(1)
			return nil, err
		}
	}

	// Encode every candidate up front so a codec failure rejects the whole
	// batch before anything is written.
	raws := make([][]byte, len(cands))
	for i, cand := range cands {
		raw, err := encodeValue(cand.Data)
		if err != nil {
			return nil, err
		}
		raws[i] = raw
	}

	updated := make([]Record[T], 0, len(cands))
	for i, cand := range cands {
		raw := raws[i]
		var present bool
		_, err := tbl.root.UpdateAndFetch(encodeID(cand.ID), func(old []byte) []byte {
			if old == nil {
				return nil
			}
			present = true
			return raw
		})
		if err != nil {
			return nil, err
		}
		if present {
			tbl.publish(event[T]{op: OpUpdate, rec: cand, old: olds[i]})
			tbl.metrics.updates.Add(1)
			updated = append(updated, cand)

			if tbl.db.verbose {
				tbl.db.logf("db: UPDATE %s/%d => %s", tbl.name, cand.ID, loggableVal(cand.Data))
			}
		}
	}
	return updated, nil
}

// Constraint appends a constraint to the table; constraints are enforced in
// registration order. Registering a unique constraint whose backing index is
// already covered by an earlier unique constraint is a no-op.
func (tbl *Table[T]) Constraint(c Constraint[T]) error {
	tbl.cmu.Lock()
	defer tbl.cmu.Unlock()

	if c.unique != nil {
		for _, existing := range tbl.constraints {
			if existing.unique != nil && existing.unique.indexName() == c.unique.indexName() {
				return nil
			}
		}
	}
	tbl.constraints = append(tbl.constraints, c)
	return nil
}

// checkConstraints verifies a candidate record against the registered
// constraints, in registration order, short-circuiting on the first failure.
// siblings, when non-empty, are the other not-yet-committed candidates of the
// same batch; two distinct candidates computing equal keys under a
// unique-constrained index fail the whole batch.
func (tbl *Table[T]) checkConstraints(cand Record[T], siblings []Record[T]) error {
	tbl.cmu.RLock()
	defer tbl.cmu.RUnlock()

	for _, c := range tbl.constraints {
		switch {
		case c.unique != nil:
			ids, err := c.unique.recordIDs(cand.Data)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if id != cand.ID {
					return &ExistsError{Constraint: c.unique.indexName(), ID: cand.ID}
				}
			}
			if len(siblings) > 1 {
				key, err := c.unique.keyBytes(cand.Data)
				if err != nil {
					return err
				}
				for _, sib := range siblings {
					if sib.ID == cand.ID {
						continue
					}
					sk, err := c.unique.keyBytes(sib.Data)
					if err != nil {
						return err
					}
					if bytes.Equal(key, sk) {
						return ErrBatchConstraints
					}
				}
			}
		case c.check != nil:
			if !c.check(cand.Data) {
				return ErrCondition
			}
		}
	}
	return nil
}

func (tbl *Table[T]) publish(ev event[T]) {
	tbl.subs.Range(func(_ uuid.UUID, sub *subscription[T]) bool {
		sub.publish(ev)
		return true
	})
	tbl.metrics.eventsPublished.Add(uint64(tbl.subs.Size()))
}

func (tbl *Table[T]) subscribe() *subscription[T] {
	sub := newSubscription[T]()
	tbl.subs.Store(sub.id, sub)
	return sub
}

func (tbl *Table[T]) unsubscribe(id uuid.UUID) {
	tbl.subs.Delete(id)
}

func (tbl *Table[T]) subscriberCount() int {
	return tbl.subs.Size()
}
