package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownFrames(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Frame
	}{
		{"step", `{"type":"step","content":"searching web"}`, Step{Content: "searching web"}},
		{"token", `{"type":"token","content":"Hello"}`, Token{Content: "Hello"}},
		{"empty token", `{"type":"token","content":""}`, Token{Content: ""}},
		{"error", `{"type":"error","content":"boom"}`, Error{Content: "boom"}},
		{"done", `{"type":"done"}`, Done{}},
		{"done with content", `{"type":"done","content":"ignored"}`, Done{}},
		{"extra fields", `{"type":"token","content":"x","seq":4}`, Token{Content: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, in := range []string{
		`not json`,
		``,
		`[]`,
		`{"content":"no type"}`,
		`{"type":"token"}`,
		`{"type":"step","content":42}`,
	} {
		_, err := Decode([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedFrame, "input %q", in)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"usage","content":"12"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownFrameType))
	assert.False(t, errors.Is(err, ErrMalformedFrame))
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	for _, f := range []Frame{Step{Content: "a"}, Token{Content: " b"}, Error{Content: "c"}, Done{}} {
		data, err := Encode(f)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestEncode_DoneOmitsContent(t *testing.T) {
	data, err := Encode(Done{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"done"}`, string(data))
}
