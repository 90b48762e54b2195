package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Parse errors. Every error returned by ParseUpdate wraps exactly one of these.
var (
	ErrMalformed     = errors.New("malformed update")
	ErrMissingField  = errors.New("missing required field")
	ErrUnknownKind   = errors.New("unknown update kind")
	ErrBadTimestamp  = errors.New("invalid timestamp")
	ErrPayloadDecode = errors.New("decode payload")
)

// Kind discriminates the update variants.
type Kind string

const (
	KindImageProcessed Kind = "image_processed"
	KindUploadProgress Kind = "upload_progress"
	KindStatusUpdate   Kind = "status_update"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindImageProcessed, KindUploadProgress, KindStatusUpdate:
		return true
	}
	return false
}

// Update is one parsed notification. It is a value type; Payload must not be
// mutated by receivers.
type Update struct {
	Kind      Kind
	Payload   json.RawMessage
	Timestamp time.Time
}

// updateWire is the wire format of a frame body.
type updateWire struct {
	Type      *string         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp *string         `json:"timestamp"`
}

// timestampLayouts are tried in order. Zone-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// ParseUpdate parses a frame body into an Update.
func ParseUpdate(body []byte) (Update, error) {
	var w updateWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if w.Type == nil {
		return Update{}, fmt.Errorf("%w: type", ErrMissingField)
	}
	if len(w.Payload) == 0 || bytes.Equal(w.Payload, []byte("null")) {
		return Update{}, fmt.Errorf("%w: payload", ErrMissingField)
	}
	if w.Timestamp == nil {
		return Update{}, fmt.Errorf("%w: timestamp", ErrMissingField)
	}

	kind := Kind(*w.Type)
	if !kind.Valid() {
		return Update{}, fmt.Errorf("%w: %q", ErrUnknownKind, *w.Type)
	}

	ts, err := parseTimestamp(*w.Timestamp)
	if err != nil {
		return Update{}, err
	}

	payload := make(json.RawMessage, len(w.Payload))
	copy(payload, w.Payload)

	return Update{
		Kind:      kind,
		Payload:   payload,
		Timestamp: ts,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

// Decode unmarshals the payload into v.
func (u Update) Decode(v any) error {
	if err := json.Unmarshal(u.Payload, v); err != nil {
		return fmt.Errorf("%w (%s): %v", ErrPayloadDecode, u.Kind, err)
	}
	return nil
}

// MarshalJSON writes the update back in wire format.
func (u Update) MarshalJSON() ([]byte, error) {
	ts := u.Timestamp.Format(time.RFC3339Nano)
	kind := string(u.Kind)
	payload := u.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(updateWire{
		Type:      &kind,
		Payload:   payload,
		Timestamp: &ts,
	})
}
