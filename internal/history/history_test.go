package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	e := NewEvent(EventStart, "alpha", 42, "started in 1.2s")
	after := time.Now().UTC()

	require.NotEmpty(t, e.ID)
	assert.Equal(t, EventStart, e.Type)
	assert.Equal(t, "alpha", e.Slot)
	assert.Equal(t, 42, e.PID)
	assert.Equal(t, "started in 1.2s", e.Detail)
	assert.False(t, e.OccurredAt.Before(before))
	assert.False(t, e.OccurredAt.After(after))

	other := NewEvent(EventStart, "alpha", 42, "")
	assert.NotEqual(t, e.ID, other.ID)
}
