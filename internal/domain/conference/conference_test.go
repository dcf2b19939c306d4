package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomID(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected string
		wantErr  bool
	}{
		{
			name:     "already ordered",
			a:        "CA100",
			b:        "CA200",
			expected: "CA100::CA200",
		},
		{
			name:     "order independent",
			a:        "CA200",
			b:        "CA100",
			expected: "CA100::CA200",
		},
		{
			name:    "empty participant",
			a:       "",
			b:       "CA200",
			wantErr: true,
		},
		{
			name:    "separator in id",
			a:       "CA1::00",
			b:       "CA200",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := RoomID(tt.a, tt.b)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRoomID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestOther(t *testing.T) {
	tests := []struct {
		name     string
		ownID    string
		roomID   string
		expected string
		wantErr  bool
	}{
		{
			name:     "first half",
			ownID:    "CA100",
			roomID:   "CA100::CA200",
			expected: "CA200",
		},
		{
			name:     "second half",
			ownID:    "CA200",
			roomID:   "CA100::CA200",
			expected: "CA100",
		},
		{
			name:    "not a member",
			ownID:   "CA300",
			roomID:  "CA100::CA200",
			wantErr: true,
		},
		{
			name:    "no separator",
			ownID:   "CA100",
			roomID:  "CA100CA200",
			wantErr: true,
		},
		{
			name:    "too many parts",
			ownID:   "CA100",
			roomID:  "CA100::CA200::CA300",
			wantErr: true,
		},
		{
			name:    "empty half",
			ownID:   "CA100",
			roomID:  "CA100::",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other, err := Other(tt.ownID, tt.roomID)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRoomID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, other)
		})
	}
}

func TestRoomID_RoundTrip(t *testing.T) {
	// Arbitrary identifiers not containing the separator round-trip
	// from either side.
	pairs := [][2]string{
		{"CA100", "CA200"},
		{"z", "a"},
		{"+15005550001", "+15005550002"},
		{"b2c3d4", "a1b2c3"},
	}

	for _, p := range pairs {
		room, err := RoomID(p[0], p[1])
		require.NoError(t, err)

		other, err := Other(p[0], room)
		require.NoError(t, err)
		assert.Equal(t, p[1], other)

		other, err = Other(p[1], room)
		require.NoError(t, err)
		assert.Equal(t, p[0], other)
	}
}
