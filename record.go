package tinybase

// Record is a single row of a table: the engine-assigned id plus the typed
// payload. Ids are assigned once at insertion and never reused, so a Record
// remains a stable handle even across updates of its data.
type Record[T any] struct {
	ID   uint64
	Data T
}
