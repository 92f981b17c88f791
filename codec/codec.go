// Package codec serializes the cached aggregation payload.
//
// Encode failures are data-contract defects, not transient conditions: the
// cache manager surfaces them to the caller and leaves the stored entry alone.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
