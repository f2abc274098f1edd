// Package item converts raw page records into validated items.
//
// Every record is validated on its own: a malformed record yields a
// *DecodeError in its slot and never affects its siblings.
package item

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidItem is wrapped by every DecodeError.
var ErrInvalidItem = errors.New("invalid item")

// Item is one validated record of a resource.
type Item struct {
	ID   int64  `json:"id" yaml:"id"`
	Body string `json:"body" yaml:"body"`
}

// String renders the item the way the CLI prints it.
func (i Item) String() string {
	return fmt.Sprintf("Item(id=%d, body=%q)", i.ID, i.Body)
}

// DecodeError describes why a record was rejected.
type DecodeError struct {
	Index  int
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("record %d: field %q: %s", e.Index, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidItem.
func (e *DecodeError) Unwrap() error {
	return ErrInvalidItem
}

// Decoded is the result for one record: either Item or Err is set.
type Decoded struct {
	Item Item
	Err  error
}

// OK reports whether the record produced a valid item.
func (d Decoded) OK() bool {
	return d.Err == nil
}

// Decode validates each record independently, preserving order.
func Decode(records []json.RawMessage) []Decoded {
	out := make([]Decoded, 0, len(records))
	for i, raw := range records {
		it, err := decodeRecord(i, raw)
		out = append(out, Decoded{Item: it, Err: err})
	}
	return out
}

// Valid returns the items of all successfully decoded records.
func Valid(decoded []Decoded) []Item {
	items := make([]Item, 0, len(decoded))
	for _, d := range decoded {
		if d.OK() {
			items = append(items, d.Item)
		}
	}
	return items
}

func decodeRecord(index int, raw json.RawMessage) (Item, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Item{}, &DecodeError{Index: index, Reason: "not a JSON object"}
	}

	id, err := parseID(fields["id"])
	if err != nil {
		return Item{}, &DecodeError{Index: index, Field: "id", Reason: err.Error()}
	}

	body, err := parseBody(fields["body"])
	if err != nil {
		return Item{}, &DecodeError{Index: index, Field: "body", Reason: err.Error()}
	}

	return Item{ID: id, Body: body}, nil
}

// parseID accepts a JSON integer or a string holding one; it must be > 0.
func parseID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return 0, errors.New("missing")
	}

	var text string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, errors.New("malformed string")
		}
	default:
		var num json.Number
		if err := json.Unmarshal(raw, &num); err != nil {
			return 0, errors.New("not a number")
		}
		text = num.String()
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		// 3.0 is still an integer
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("not an integer: %s", text)
		}
		id = int64(f)
	}

	if id <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", id)
	}
	return id, nil
}

// parseBody accepts a JSON string; numbers and booleans become their literal text.
func parseBody(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return "", errors.New("missing")
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errors.New("malformed string")
		}
		return s, nil
	case '{', '[':
		return "", errors.New("not convertible to text")
	default:
		// numbers, true, false
		return string(raw), nil
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
