/*
Package tinybase implements a structured-data layer on top of an ordered
key-value engine (Bolt, Pebble, or in-memory; see the kv subpackage).

We implement:

1. Tables, typed collections of records keyed by engine-generated ids.

2. Indexes, derived trees mapping a computed key to the ids sharing it.

3. Constraints, uniqueness (backed by an index) and predicate checks,
enforced before any write commits, including self-consistency across the
candidates of one batch update.

4. Queries, AND/OR trees of index lookups with set semantics over record ids.

# Technical Details

**Trees.**
One primary tree per table, named by the table's name, mapping 8-byte
big-endian ids to msgpack-encoded data; one derived tree per index, named
"{table}_idx_{index}", mapping a msgpack-encoded key to the list of ids
sharing it, in insertion order.

**Change propagation.**
Tables do not update indexes inline. Every write publishes an event to each
live index subscription's unbounded queue; an index drains its queue right
before serving a read. Eager inline application would be simpler but would
serialize every writer behind the slowest index and entangle the table's
locks with every index's. The price of the lazy design is read-time catch-up
on every index read.

**Write serialization.**
A per-table mutex serializes constraint-check, write and event publish.
Without it, two concurrent inserts racing on the same unique key could both
pass the index lookup before either commits.
*/
package tinybase
