package haclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsable(t *testing.T) {
	assert.True(t, StatusConnecting.Usable())
	assert.True(t, StatusConnected.Usable())
	assert.False(t, StatusDisconnected.Usable())
	assert.False(t, StatusClosed.Usable())
	assert.False(t, StatusFailed.Usable())
	assert.False(t, StatusStopping.Usable())
}

func TestClosedNeverRegresses(t *testing.T) {
	assert.False(t, StatusClosed.canTransition(StatusFailed))
	assert.False(t, StatusClosed.canTransition(StatusConnected))
	assert.False(t, StatusClosed.canTransition(StatusConnecting))
}

func TestNonClosedCanTransitionFreely(t *testing.T) {
	assert.True(t, StatusConnecting.canTransition(StatusConnected))
	assert.True(t, StatusConnected.canTransition(StatusDisconnected))
	assert.True(t, StatusFailed.canTransition(StatusConnecting))
}
