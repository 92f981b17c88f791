package codec

import "github.com/bytedance/sonic"

// JSON encodes with sonic in encoding/json compatible mode. Map keys are
// sorted, so equal values always produce identical bytes.
// The zero value is ready to use.
type JSON[V any] struct{}

var _ Codec[map[string][]string] = JSON[map[string][]string]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return sonic.ConfigStd.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := sonic.ConfigStd.Unmarshal(b, &v)
	return v, err
}
