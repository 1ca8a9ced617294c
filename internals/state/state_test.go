package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	names := map[ConnectionState]string{
		Idle:       "idle",
		Connecting: "connecting",
		Waiting:    "waiting",
		Active:     "active",
		Offline:    "offline",
		Error:      "error",
	}
	for s, want := range names {
		assert.Equal(t, want, s.String())
	}
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
