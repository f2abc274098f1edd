package item

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raws(t *testing.T, records ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		out = append(out, json.RawMessage(r))
	}
	return out
}

func TestDecode_ValidRecords(t *testing.T) {
	decoded := Decode(raws(t, `{"id":1,"body":"x"}`, `{"id":2,"body":"y","userId":7}`))

	require.Len(t, decoded, 2)
	assert.True(t, decoded[0].OK())
	assert.True(t, decoded[1].OK())
	assert.Equal(t, Item{ID: 1, Body: "x"}, decoded[0].Item)
	assert.Equal(t, Item{ID: 2, Body: "y"}, decoded[1].Item)
}

func TestDecode_InvalidRecordDoesNotAffectSiblings(t *testing.T) {
	decoded := Decode(raws(t,
		`{"id":1,"body":"first"}`,
		`{"id":0,"body":"zero"}`,
		`{"body":"no id"}`,
		`{"id":-4,"body":"negative"}`,
		`{"id":5,"body":"last"}`,
	))

	require.Len(t, decoded, 5)
	assert.Equal(t, []Item{{ID: 1, Body: "first"}, {ID: 5, Body: "last"}}, Valid(decoded))

	for _, i := range []int{1, 2, 3} {
		assert.False(t, decoded[i].OK(), "record %d should be rejected", i)
		assert.True(t, errors.Is(decoded[i].Err, ErrInvalidItem))

		var decodeErr *DecodeError
		require.True(t, errors.As(decoded[i].Err, &decodeErr))
		assert.Equal(t, i, decodeErr.Index)
		assert.Equal(t, "id", decodeErr.Field)
	}
}

func TestDecode_IDConversion(t *testing.T) {
	tests := []struct {
		name    string
		record  string
		wantID  int64
		wantErr bool
	}{
		{name: "integer", record: `{"id":42,"body":"b"}`, wantID: 42},
		{name: "integral float", record: `{"id":3.0,"body":"b"}`, wantID: 3},
		{name: "exponent", record: `{"id":1e2,"body":"b"}`, wantID: 100},
		{name: "numeric string", record: `{"id":"17","body":"b"}`, wantID: 17},
		{name: "fractional", record: `{"id":1.5,"body":"b"}`, wantErr: true},
		{name: "zero", record: `{"id":0,"body":"b"}`, wantErr: true},
		{name: "negative", record: `{"id":-1,"body":"b"}`, wantErr: true},
		{name: "null", record: `{"id":null,"body":"b"}`, wantErr: true},
		{name: "missing", record: `{"body":"b"}`, wantErr: true},
		{name: "non numeric string", record: `{"id":"abc","body":"b"}`, wantErr: true},
		{name: "boolean", record: `{"id":true,"body":"b"}`, wantErr: true},
		{name: "object", record: `{"id":{"v":1},"body":"b"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded := Decode(raws(t, tt.record))
			require.Len(t, decoded, 1)

			if tt.wantErr {
				assert.Error(t, decoded[0].Err)
				return
			}
			require.NoError(t, decoded[0].Err)
			assert.Equal(t, tt.wantID, decoded[0].Item.ID)
		})
	}
}

func TestDecode_BodyConversion(t *testing.T) {
	tests := []struct {
		name     string
		record   string
		wantBody string
		wantErr  bool
	}{
		{name: "string", record: `{"id":1,"body":"hello\nworld"}`, wantBody: "hello\nworld"},
		{name: "empty string", record: `{"id":1,"body":""}`, wantBody: ""},
		{name: "number", record: `{"id":1,"body":12.5}`, wantBody: "12.5"},
		{name: "boolean", record: `{"id":1,"body":false}`, wantBody: "false"},
		{name: "missing", record: `{"id":1}`, wantErr: true},
		{name: "null", record: `{"id":1,"body":null}`, wantErr: true},
		{name: "object", record: `{"id":1,"body":{"a":1}}`, wantErr: true},
		{name: "array", record: `{"id":1,"body":["a"]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded := Decode(raws(t, tt.record))
			require.Len(t, decoded, 1)

			if tt.wantErr {
				var decodeErr *DecodeError
				require.True(t, errors.As(decoded[0].Err, &decodeErr))
				assert.Equal(t, "body", decodeErr.Field)
				return
			}
			require.NoError(t, decoded[0].Err)
			assert.Equal(t, tt.wantBody, decoded[0].Item.Body)
		})
	}
}

func TestDecode_NonObjectRecords(t *testing.T) {
	decoded := Decode(raws(t, `[1,2]`, `"text"`, `7`, `null`, `{"id":9,"body":"ok"}`))

	require.Len(t, decoded, 5)
	for i := 0; i < 4; i++ {
		var decodeErr *DecodeError
		require.True(t, errors.As(decoded[i].Err, &decodeErr), "record %d", i)
		assert.Empty(t, decodeErr.Field)
		assert.Equal(t, "not a JSON object", decodeErr.Reason)
	}
	assert.Equal(t, Item{ID: 9, Body: "ok"}, decoded[4].Item)
}

func TestDecode_Empty(t *testing.T) {
	assert.Empty(t, Decode(nil))
	assert.Empty(t, Valid(Decode(nil)))
}

func TestDecodeError_Error(t *testing.T) {
	withField := &DecodeError{Index: 2, Field: "id", Reason: "missing"}
	assert.Equal(t, `record 2: field "id": missing`, withField.Error())

	withoutField := &DecodeError{Index: 0, Reason: "not a JSON object"}
	assert.Equal(t, "record 0: not a JSON object", withoutField.Error())
}

func TestItem_String(t *testing.T) {
	assert.Equal(t, `Item(id=1, body="x")`, Item{ID: 1, Body: "x"}.String())
}
