package traci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_TypedValues(t *testing.T) {
	tests := []struct {
		name     string
		write    func(*Storage)
		expected []byte
	}{
		{
			name:     "typed string",
			write:    func(s *Storage) { s.WriteTypedString("e1") },
			expected: []byte{0x0C, 0x00, 0x00, 0x00, 0x02, 'e', '1'},
		},
		{
			name:     "typed int",
			write:    func(s *Storage) { s.WriteTypedInt32(258) },
			expected: []byte{0x09, 0x00, 0x00, 0x01, 0x02},
		},
		{
			name:     "typed double",
			write:    func(s *Storage) { s.WriteTypedDouble(1.0) },
			expected: []byte{0x0B, 0x3f, 0xf0, 0, 0, 0, 0, 0, 0},
		},
		{
			name:     "string list",
			write:    func(s *Storage) { s.WriteTypedStringList([]string{"a", "bc"}) },
			expected: []byte{0x0E, 0, 0, 0, 2, 0, 0, 0, 1, 'a', 0, 0, 0, 2, 'b', 'c'},
		},
		{
			name:     "compound header",
			write:    func(s *Storage) { s.WriteCompound(7) },
			expected: []byte{0x0F, 0, 0, 0, 7},
		},
		{
			name:     "color",
			write:    func(s *Storage) { s.WriteColor(Color{R: 255, G: 69, B: 0, A: 255}) },
			expected: []byte{0x11, 255, 69, 0, 255},
		},
		{
			name:     "signed byte",
			write:    func(s *Storage) { s.WriteTypedInt8(-1) },
			expected: []byte{0x08, 0xff},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Storage
			tt.write(&s)
			assert.Equal(t, tt.expected, s.Bytes())
		})
	}
}

func TestReader_RoundTripsStorage(t *testing.T) {
	var s Storage
	s.WriteTypedString("veh_0")
	s.WriteTypedDouble(-3.25)
	s.WriteTypedInt32(-7)
	s.WriteTypedStringList([]string{"e1", "e2", "e3"})

	r := NewReader(s.Bytes())
	str, err := r.ReadTypedString()
	require.NoError(t, err)
	assert.Equal(t, "veh_0", str)

	d, err := r.ReadTypedDouble()
	require.NoError(t, err)
	assert.Equal(t, -3.25, d)

	i, err := r.ReadTypedInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), i)

	list, err := r.ReadTypedStringList()
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e3"}, list)
	assert.Equal(t, 0, r.Remaining())
}

func TestReader_ShortBuffer(t *testing.T) {
	r := NewReader([]byte{0x0C, 0x00, 0x00, 0x00, 0x05, 'a'})
	_, err := r.ReadTypedString()
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestReader_WrongType(t *testing.T) {
	r := NewReader([]byte{0x09, 0, 0, 0, 1})
	_, err := r.ReadTypedDouble()
	assert.Error(t, err)
}

func TestReadLength(t *testing.T) {
	short, err := NewReader([]byte{0x07}).ReadLength()
	require.NoError(t, err)
	assert.Equal(t, 6, short)

	long, err := NewReader([]byte{0x00, 0x00, 0x00, 0x01, 0x2c}).ReadLength()
	require.NoError(t, err)
	assert.Equal(t, 300-5, long)
}

func TestFrameCommand(t *testing.T) {
	t.Run("short form", func(t *testing.T) {
		got := frameCommand(CmdSimStep, []byte{1, 2, 3})
		assert.Equal(t, []byte{5, CmdSimStep, 1, 2, 3}, got)
	})

	t.Run("extended form above 255 bytes", func(t *testing.T) {
		content := make([]byte, 300)
		got := frameCommand(CmdSetRouteVariable, content)
		require.Len(t, got, 306)
		assert.Equal(t, byte(0), got[0])
		n, err := NewReader(got[1:5]).ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, int32(306), n)
		assert.Equal(t, CmdSetRouteVariable, got[5])
	})
}

func TestFrameMessage(t *testing.T) {
	got := frameMessage([]byte{2, CmdClose})
	assert.Equal(t, []byte{0, 0, 0, 6, 2, CmdClose}, got)
}
