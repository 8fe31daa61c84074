package persist

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Bucket holds one record per persisted slice, keyed by slice name.
var Bucket = []byte("snapshot")

var errNoValue = errors.New("record has no value")

// record is the stored form of one slice.
type record struct {
	Slice   string
	Version uint64
	SavedAt time.Time
	Value   *structpb.Value
}

var deterministic = proto.MarshalOptions{Deterministic: true}

func (r record) marshal() ([]byte, error) {
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"slice":    structpb.NewStringValue(r.Slice),
		"version":  structpb.NewNumberValue(float64(r.Version)),
		"saved_at": structpb.NewStringValue(r.SavedAt.UTC().Format(time.RFC3339Nano)),
		"value":    r.Value,
	}}
	return deterministic.Marshal(msg)
}

func unmarshalRecord(data []byte) (record, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return record{}, err
	}
	f := msg.GetFields()
	r := record{
		Slice:   f["slice"].GetStringValue(),
		Version: uint64(f["version"].GetNumberValue()),
		Value:   f["value"],
	}
	if r.Value == nil {
		return record{}, errNoValue
	}
	if s := f["saved_at"].GetStringValue(); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return record{}, fmt.Errorf("saved_at: %w", err)
		}
		r.SavedAt = t
	}
	return r, nil
}

// fingerprint is the deterministic encoding of a slice value, used to skip
// writes for slices that did not change.
func fingerprint(v *structpb.Value) ([]byte, error) {
	return deterministic.Marshal(v)
}
