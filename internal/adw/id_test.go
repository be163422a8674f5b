package adw

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewADWID_Format(t *testing.T) {
	id, err := NewADWID()
	require.NoError(t, err)
	require.Len(t, id, 8)
	require.True(t, ValidADWID(id), "generated id %q must validate", id)
}

func TestNewADWID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := NewADWID()
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q after %d draws", id, i)
		seen[id] = struct{}{}
	}
}

func TestValidADWID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"well formed", "a1b2c3d4", true},
		{"all digits", "01234567", true},
		{"all letters", "abcdef00", true},
		{"too short", "a1b2c3d", false},
		{"too long", "a1b2c3d4e", false},
		{"uppercase", "A1B2C3D4", false},
		{"non hex", "g1b2c3d4", false},
		{"with prefix", "adw-a1b2c3d4", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.valid, ValidADWID(tt.id))
		})
	}
}
