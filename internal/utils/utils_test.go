package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestToStringSlice(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"single string", " ADMIN ", []string{"ADMIN"}},
		{"blank string", "  ", []string{}},
		{"mixed array", []any{"user", 3, " ", "provider"}, []string{"user", "provider"}},
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"unsupported", 42, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, utils.ToStringSlice(tt.value))
		})
	}
}

func TestClone(t *testing.T) {
	require.Nil(t, utils.Clone[int](nil))

	src := utils.Ptr(7)
	c := utils.Clone(src)
	*c = 8
	require.Equal(t, 7, utils.Value(src))
	require.Equal(t, 0, utils.Value[int](nil))
}
