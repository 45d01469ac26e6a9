package tether

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindCoerce(t *testing.T) {
	id := uuid.MustParse("0195b7a9-5f2e-7cc3-b84d-1f3a6a6f2d10")
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		kind Kind
		in   any
		want any
	}{
		{"nil_passes_through", KindInt, nil, nil},
		{"int_to_int64", KindInt, 42, int64(42)},
		{"int32_widens", KindInt, int32(7), int64(7)},
		{"uint_widens", KindInt, uint16(9), int64(9)},
		{"float32_widens", KindFloat, float32(1.5), float64(1.5)},
		{"int_to_float", KindFloat, int64(3), float64(3)},
		{"string_stays", KindText, "joe", "joe"},
		{"bytes_to_string", KindText, []byte("joe"), "joe"},
		{"bool_stays", KindBool, true, true},
		{"int_to_bool", KindBool, int64(1), true},
		{"zero_to_false", KindBool, int64(0), false},
		{"string_to_bytes", KindBytes, "ab", []byte("ab")},
		{"time_stays", KindTime, when, when},
		{"rfc3339_parses", KindTime, "2026-01-02T03:04:05Z", when},
		{"uuid_to_string", KindUUID, id, id.String()},
		{"uuid_string_normalizes", KindUUID, "0195B7A9-5F2E-7CC3-B84D-1F3A6A6F2D10", id.String()},
		{"uuid_raw_bytes", KindUUID, id[:], id.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.kind.coerce(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindCoerce_Rejects(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   any
	}{
		{"string_to_int", KindInt, "42"},
		{"float_to_int", KindInt, 1.5},
		{"overflowing_uint64", KindInt, uint64(1) << 63},
		{"struct_to_text", KindText, struct{}{}},
		{"bad_timestamp", KindTime, "yesterday"},
		{"bad_uuid", KindUUID, "not-a-uuid"},
		{"int_to_uuid", KindUUID, int64(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.kind.coerce(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestValueEqual(t *testing.T) {
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.True(t, valueEqual(nil, nil))
	assert.False(t, valueEqual(nil, int64(0)))
	assert.True(t, valueEqual(int64(1), int64(1)))
	assert.False(t, valueEqual(int64(1), int64(2)))
	assert.True(t, valueEqual([]byte{1, 2}, []byte{1, 2}))
	assert.False(t, valueEqual([]byte{1}, []byte{1, 2}))
	assert.True(t, valueEqual(when, when.In(time.FixedZone("x", 3600))), "instant equality, not representation")
}
