// Package persist saves store slices to a storage.Store and loads them back
// as a Rehydrate action.
package persist

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec converts one slice value to and from a structpb.Value. Decode must
// return the same concrete type the slice's reducer holds.
type Codec struct {
	Encode func(v any) (*structpb.Value, error)
	Decode func(v *structpb.Value) (any, error)
}

// Codecs maps slice names to their codec. Slices without a codec are not
// persisted.
type Codecs map[string]Codec

// Structured returns a codec for any JSON-marshalable T.
func Structured[T any]() Codec {
	return Codec{
		Encode: func(v any) (*structpb.Value, error) {
			typed, ok := v.(T)
			if !ok {
				var zero T
				return nil, fmt.Errorf("encode: have %T, want %T", v, zero)
			}
			raw, err := json.Marshal(typed)
			if err != nil {
				return nil, fmt.Errorf("encode: %w", err)
			}
			out := &structpb.Value{}
			if err := protojson.Unmarshal(raw, out); err != nil {
				return nil, fmt.Errorf("encode: %w", err)
			}
			return out, nil
		},
		Decode: func(v *structpb.Value) (any, error) {
			raw, err := protojson.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("decode: %w", err)
			}
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("decode: %w", err)
			}
			return out, nil
		},
	}
}
