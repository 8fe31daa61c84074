package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fluxstore/pkg/store"
)

// ErrInvalidPayload is returned by DecodeAction for a known kind whose
// payload is malformed.
var ErrInvalidPayload = errors.New("invalid payload")

// DecodeAction builds an action from its kind and JSON payload. Kinds the
// application does not define decode to Unknown.
func DecodeAction(kind string, payload json.RawMessage) (store.Action, error) {
	switch kind {
	case KindCreateItem:
		var p struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodePayload(kind, payload, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Title) == "" {
			return nil, fmt.Errorf("%w: %s: title is required", ErrInvalidPayload, kind)
		}
		item := NewItem(p.Title)
		if p.ID != "" {
			item.ID = p.ID
		}
		return ItemAdded{Item: item}, nil

	case KindRemoveItem:
		var p struct {
			ID string `json:"id"`
		}
		if err := decodePayload(kind, payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%w: %s: id is required", ErrInvalidPayload, kind)
		}
		return ItemRemoved{ID: p.ID}, nil

	case KindLoadUser:
		var u User
		if err := decodePayload(kind, payload, &u); err != nil {
			return nil, err
		}
		if u.Name == "" {
			return nil, fmt.Errorf("%w: %s: name is required", ErrInvalidPayload, kind)
		}
		return UserLoaded{User: u}, nil

	case KindUpdateUser:
		var p UserPatch
		if err := decodePayload(kind, payload, &p); err != nil {
			return nil, err
		}
		return UserUpdated{Patch: p}, nil

	case KindClearUser:
		return UserCleared{}, nil
	case KindIncrement:
		return Incremented{}, nil
	case KindDecrement:
		return Decremented{}, nil

	case KindIncrementAsync:
		var p struct {
			Delay string `json:"delay"`
		}
		if err := decodePayload(kind, payload, &p); err != nil {
			return nil, err
		}
		delay := DefaultIncrementDelay
		if p.Delay != "" {
			d, err := time.ParseDuration(p.Delay)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("%w: %s: delay %q", ErrInvalidPayload, kind, p.Delay)
			}
			delay = d
		}
		return IncrementRequested{Delay: delay}, nil
	}

	var v any
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
		}
	}
	return Unknown{Type: kind, Payload: v}, nil
}

// decodePayload unmarshals payload into v. An empty payload leaves v zero.
func decodePayload(kind string, payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}
	return nil
}
