package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThrottler_BurstThenDeny(t *testing.T) {
	th := NewThrottler(60, 3)

	assert.True(t, th.Allow())
	assert.True(t, th.Allow())
	assert.True(t, th.Allow())
	assert.False(t, th.Allow())
}

func TestThrottler_ResetRefills(t *testing.T) {
	th := NewThrottler(60, 2)

	th.Allow()
	th.Allow()
	assert.False(t, th.Allow())

	th.Reset()
	assert.True(t, th.Allow())
}

func TestThrottler_Defaults(t *testing.T) {
	th := NewThrottler(0, 0)
	assert.Equal(t, 30.0, th.Tokens())
}
