package tinybase

// QueryCondition is an AND/OR tree over index lookups, built with By, And and
// Or, and evaluated by a QueryBuilder. A condition holds no state beyond its
// shape and may reference indexes of differing key types.
type QueryCondition[T any] struct {
	kind        condKind
	index       anyIndex[T]
	key         any
	left, right *QueryCondition[T]
}

type condKind int

const (
	condBy condKind = iota + 1
	condAnd
	condOr
)

// By matches the records whose computed key under index equals key.
func By[T, I any](index *Index[T, I], key I) *QueryCondition[T] {
	return &QueryCondition[T]{kind: condBy, index: index, key: key}
}

// And matches the records matching both conditions.
func And[T any](left, right *QueryCondition[T]) *QueryCondition[T] {
	return &QueryCondition[T]{kind: condAnd, left: left, right: right}
}

// Or matches the records matching either condition.
func Or[T any](left, right *QueryCondition[T]) *QueryCondition[T] {
	return &QueryCondition[T]{kind: condOr, left: left, right: right}
}

// QueryBuilder evaluates a condition tree against one table and turns the
// matched records into select, update or delete operations. It holds no state
// of its own: evaluation is satisfied entirely by the indexes (each replaying
// its commit log first) and the table.
type QueryBuilder[T any] struct {
	table *Table[T]
	cond  *QueryCondition[T]
}

// Query returns a query builder for the table.
func Query[T any](tbl *Table[T]) *QueryBuilder[T] {
	return &QueryBuilder[T]{table: tbl}
}

// WithCondition sets the condition to evaluate, replacing any previous one.
func (q *QueryBuilder[T]) WithCondition(cond *QueryCondition[T]) *QueryBuilder[T] {
	q.cond = cond
	return q
}

func (q *QueryBuilder[T]) checkValid() error {
	if q.cond == nil {
		return ErrNoCondition
	}
	return nil
}

// Select evaluates the condition and returns the matching records.
func (q *QueryBuilder[T]) Select() ([]Record[T], error) {
	if err := q.checkValid(); err != nil {
		return nil, err
	}
	return q.cond.eval()
}

// Update evaluates the condition and applies fn to every matched record via
// the table's batch update, with full constraint checking.
func (q *QueryBuilder[T]) Update(fn func(T) T) ([]Record[T], error) {
	if err := q.checkValid(); err != nil {
		return nil, err
	}
	matched, err := q.cond.eval()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(matched))
	for i, rec := range matched {
		ids[i] = rec.ID
	}
	return q.table.Update(ids, fn)
}

// Delete evaluates the condition and deletes the matched records one at a
// time, returning those actually removed. This is best-effort, not atomic: a
// storage failure partway through leaves earlier deletions committed.
func (q *QueryBuilder[T]) Delete() ([]Record[T], error) {
	if err := q.checkValid(); err != nil {
		return nil, err
	}
	matched, err := q.cond.eval()
	if err != nil {
		return nil, err
	}
	removed := make([]Record[T], 0, len(matched))
	for _, rec := range matched {
		r, err := q.table.Delete(rec.ID)
		if err != nil {
			return removed, err
		}
		if r != nil {
			removed = append(removed, *r)
		}
	}
	return removed, nil
}

// eval evaluates the tree post-order. And intersects by record id, keeping
// the left side's ordering and using the right side only as a membership
// filter; Or concatenates and deduplicates by id keeping the first (leftmost)
// occurrence.
func (c *QueryCondition[T]) eval() ([]Record[T], error) {
	switch c.kind {
	case condBy:
		return c.index.search(c.key)
	case condAnd:
		left, err := c.left.eval()
		if err != nil {
			return nil, err
		}
		right, err := c.right.eval()
		if err != nil {
			return nil, err
		}
		inRight := make(map[uint64]bool, len(right))
		for _, rec := range right {
			inRight[rec.ID] = true
		}
		result := make([]Record[T], 0, len(left))
		for _, rec := range left {
			if inRight[rec.ID] {
				result = append(result, rec)
			}
		}
		return result, nil
	case condOr:
		left, err := c.left.eval()
		if err != nil {
			return nil, err
		}
		right, err := c.right.eval()
		if err != nil {
			return nil, err
		}
		seen := make(map[uint64]bool, len(left)+len(right))
		result := make([]Record[T], 0, len(left)+len(right))
		for _, rec := range append(left, right...) {
			if !seen[rec.ID] {
				seen[rec.ID] = true
				result = append(result, rec)
			}
		}
		return result, nil
	default:
		return nil, ErrNoCondition
	}
}
