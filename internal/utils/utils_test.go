package utils_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestPointerSafety(t *testing.T) {
	var missing *string
	require.Equal(t, "", utils.Value(missing))
	require.Equal(t, "A", utils.Value(utils.Ptr("A")))
}

func TestClaimConversions(t *testing.T) {
	require.Equal(t, "sub-1", utils.StringFrom("sub-1"))
	require.Equal(t, "", utils.StringFrom(42))

	require.True(t, utils.BoolFrom(true))
	require.True(t, utils.BoolFrom(" true"))
	require.False(t, utils.BoolFrom("yes please"))
	require.False(t, utils.BoolFrom(nil))

	tests := []struct {
		name string
		v    any
		want int64
		ok   bool
	}{
		{"float", float64(3600), 3600, true},
		{"int", 60, 60, true},
		{"string", "120", 120, true},
		{"json number", json.Number("900"), 900, true},
		{"bad string", "soon", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := utils.Int64From(tt.v)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}
