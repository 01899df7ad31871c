package cryptoutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHexString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", true},
		{"lowercase hex", "deadbeef", true},
		{"uppercase hex", "DEADBEEF", true},
		{"mixed case", "DeAdBeEf", true},
		{"digits only", "0123456789", true},
		{"64 char key", "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90", true},
		{"contains g", "0123abcg", false},
		{"space", "ab cd", false},
		{"special char", "abcd!!", false},
		{"newline", "abcd\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHexString(tt.in))
		})
	}
}

func TestKey32Raw(t *testing.T) {
	raw := strings.Repeat("k", 32)
	key, err := Key32(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), key[:])
}

func TestKey32Hex(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	key, err := Key32(hexKey)
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), key[0])
	assert.Equal(t, byte(0xab), key[31])
}

func TestKey32Invalid(t *testing.T) {
	_, err := Key32("too-short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}
