package tinybase

import (
	"bytes"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

// Record values and index keys are msgpack; map keys are sorted so that equal
// values always encode to equal bytes. Record ids are fixed-width big-endian
// instead, so that byte order of primary tree keys matches numeric id order
// and a table scan visits records in insertion order.

func encodeID(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func decodeID(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, codecErrf(raw, nil, "invalid record id key")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func encodeValue(v any) ([]byte, error) {
	var bb bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, codecErrf(nil, err, "failed to encode %T", v)
	}
	return bb.Bytes(), nil
}

func decodeValue(raw []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(raw)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return codecErrf(raw, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}
