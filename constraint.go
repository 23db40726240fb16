package tinybase

// Constraint is a rule checked before any table write commits: either
// uniqueness of a computed key, enforced through the index that computes it,
// or an arbitrary predicate over the record data.
//
// A unique constraint holds no data of its own; it queries its backing index
// at check time, so the index must stay open for as long as the constraint is
// registered.
type Constraint[T any] struct {
	unique anyIndex[T]
	check  func(T) bool
}

// Unique returns a constraint requiring the index's computed key to be unique
// across all records of the table.
func Unique[T, I any](index *Index[T, I]) Constraint[T] {
	return Constraint[T]{unique: index}
}

// Check returns a constraint requiring the predicate to hold for every record.
func Check[T any](check func(T) bool) Constraint[T] {
	return Constraint[T]{check: check}
}
