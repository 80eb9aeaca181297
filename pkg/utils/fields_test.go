package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsObject(t *testing.T) {
	obj, ok := AsObject(map[string]any{"action": "done"})
	assert.True(t, ok)
	assert.Equal(t, "done", obj["action"])

	for _, v := range []any{nil, "done", []any{1}, map[string]int{"a": 1}} {
		_, ok := AsObject(v)
		assert.False(t, ok, "%#v", v)
	}
}

func TestFieldOr(t *testing.T) {
	obj := map[string]any{"action": "done", "n": float64(3)}

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"present", "action", "done"},
		{"wrong type", "n", "fallback"},
		{"missing", "value", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FieldOr(obj, tt.key, "fallback"))
		})
	}

	n, ok := Field[float64](obj, "n")
	assert.True(t, ok)
	assert.Equal(t, float64(3), n)
	_, ok = Field[string](nil, "action")
	assert.False(t, ok)
}

func TestWithout(t *testing.T) {
	assert.Equal(t, map[string]any{"reason": "x"}, Without(map[string]any{"action": "think", "reason": "x"}, "action"))
	assert.Nil(t, Without(map[string]any{"action": "think"}, "action"))
	assert.Nil(t, Without(nil, "action"))
}
