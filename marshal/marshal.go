// Package marshal provides the byte-stream codecs used to persist loaded
// values. A Marshaller must round trip: Unmarshal(Marshal(x)) equals x.
package marshal

import (
	"io"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Marshaller serializes values of type V to a byte stream and back.
type Marshaller[V any] interface {
	Marshal(w io.Writer, v V) error
	Unmarshal(r io.Reader) (V, error)
}

// Msgpack encodes values with msgpack. Struct fields must be exported to
// survive the round trip; use `msgpack` tags to control field names.
type Msgpack[V any] struct{}

var _ Marshaller[string] = Msgpack[string]{}

func (Msgpack[V]) Marshal(w io.Writer, v V) error {
	if err := msgpack.NewEncoder(w).Encode(v); err != nil {
		return errors.Wrap(err, "msgpack encode")
	}
	return nil
}

func (Msgpack[V]) Unmarshal(r io.Reader) (V, error) {
	var v V
	if err := msgpack.NewDecoder(r).Decode(&v); err != nil {
		var zero V
		return zero, errors.Wrap(err, "msgpack decode")
	}
	return v, nil
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON encodes values as a single JSON document.
type JSON[V any] struct{}

var _ Marshaller[string] = JSON[string]{}

func (JSON[V]) Marshal(w io.Writer, v V) error {
	if err := jsonAPI.NewEncoder(w).Encode(v); err != nil {
		return errors.Wrap(err, "json encode")
	}
	return nil
}

func (JSON[V]) Unmarshal(r io.Reader) (V, error) {
	var v V
	if err := jsonAPI.NewDecoder(r).Decode(&v); err != nil {
		var zero V
		return zero, errors.Wrap(err, "json decode")
	}
	return v, nil
}

// YAML encodes values as a YAML document. Handy when operators want to read
// or hand-edit persisted fallback values.
type YAML[V any] struct{}

var _ Marshaller[string] = YAML[string]{}

func (YAML[V]) Marshal(w io.Writer, v V) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "yaml encode")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "yaml encode")
	}
	return nil
}

func (YAML[V]) Unmarshal(r io.Reader) (V, error) {
	var v V
	if err := yaml.NewDecoder(r).Decode(&v); err != nil {
		var zero V
		return zero, errors.Wrap(err, "yaml decode")
	}
	return v, nil
}

// Func adapts a pair of functions into a Marshaller.
type Func[V any] struct {
	MarshalFunc   func(w io.Writer, v V) error
	UnmarshalFunc func(r io.Reader) (V, error)
}

func (f Func[V]) Marshal(w io.Writer, v V) error {
	return f.MarshalFunc(w, v)
}

func (f Func[V]) Unmarshal(r io.Reader) (V, error) {
	return f.UnmarshalFunc(r)
}
