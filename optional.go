package poll

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Optional holds a value of type T that may be absent.
//
// The zero value is absent. Use [Some] and [None] to construct values
// explicitly. Optional is a small value type and is safe to copy.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns an [Optional] holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent [Optional].
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the held value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsSet reports whether a value is present.
func (o Optional[T]) IsSet() bool {
	return o.ok
}

// OrElse returns the held value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if !o.ok {
		return def
	}
	return o.value
}

// String implements fmt.Stringer.
func (o Optional[T]) String() string {
	if !o.ok {
		return "<none>"
	}
	return fmt.Sprint(o.value)
}

// MarshalJSON encodes an absent value as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as absent.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
