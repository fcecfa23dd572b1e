package value

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"nil", Nil(), false},
		{"zero int", Int(0), false},
		{"nonzero int", Int(-1), true},
		{"empty string", String(""), false},
		{"nonempty string", String("x"), true},
		{"false", Bool(false), false},
		{"true", Bool(true), true},
		{"empty list", List(nil), false},
		{"nonempty list", List([]Value{Int(1)}), true},
		{"symbol", Symbol("ok"), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, c.v.Truthy())
		})
	}
}

func TestEqual(t *testing.T) {
	require.True(t, Equal(Int(3), Int(3)))
	require.False(t, Equal(Int(3), Int(4)))
	require.False(t, Equal(Int(3), Float(3)))
	require.True(t, Equal(List([]Value{Int(1), String("a")}), List([]Value{Int(1), String("a")})))
	require.False(t, Equal(List([]Value{Int(1)}), List([]Value{Int(1), Int(2)})))
}

func TestSerializeRoundTrip(t *testing.T) {
	values := []Value{
		Nil(),
		Int(42),
		Int(-42),
		Float(3.25),
		String("hello"),
		Symbol("ok"),
		Bool(true),
		Bool(false),
		List([]Value{Int(1), String("two"), List([]Value{Bool(true)})}),
		Func("main", 7),
	}

	for _, v := range values {
		var buf bytes.Buffer
		require.NoError(t, v.Serialize(&buf))
		got, err := Deserialize(&buf)
		require.NoError(t, err)
		require.True(t, Equal(v, got), "round trip mismatch for %v", v)
	}
}
