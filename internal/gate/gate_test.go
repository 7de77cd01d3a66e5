package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllows_Bounds(t *testing.T) {
	g := New(100, 200)
	tests := []struct {
		size int64
		want bool
	}{
		{0, false},
		{99, false},
		{100, true},
		{150, true},
		{200, true},
		{201, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Allows(tt.size), "size %d", tt.size)
	}
}

func TestNew_Defaults(t *testing.T) {
	g := New(0, 0)
	assert.Equal(t, DefaultMinBytes, g.MinBytes)
	assert.Equal(t, DefaultMaxBytes, g.MaxBytes)
	assert.True(t, g.Allows(DefaultMinBytes))
	assert.True(t, g.Allows(DefaultMaxBytes))
	assert.False(t, g.Allows(DefaultMaxBytes+1))
}
