package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewChannelSeedsRequestIDs(t *testing.T) {
	a := NewChannel(ChannelConfig{})
	b := NewChannel(ChannelConfig{})
	defer a.Close()
	defer b.Close()

	// ids from separate channels must not line up
	assert.NotEqual(t, a.requestID, b.requestID)
}
