package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(2)

	require.True(t, r.Register(newFakeClient("a")))
	require.True(t, r.Register(newFakeClient("b")))
	assert.True(t, r.Full())

	assert.False(t, r.Register(newFakeClient("c")))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.IDs())
}

func TestRegistryDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxClients, NewRegistry(0).Cap())
}

func TestRegistryRoundRobinOrder(t *testing.T) {
	r := NewRegistry(3)
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, r.Register(newFakeClient(id)))
	}

	var served []string
	for i := 0; i < 6; i++ {
		c, ok := r.Pop()
		require.True(t, ok)
		served = append(served, c.ID())
		r.Requeue(c)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, served)
}

func TestRegistryInServiceClientKeepsItsSlot(t *testing.T) {
	r := NewRegistry(2)
	require.True(t, r.Register(newFakeClient("a")))
	require.True(t, r.Register(newFakeClient("b")))

	c, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Register(newFakeClient("c")), "popped client still holds its slot")

	r.Retire()
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Register(newFakeClient("c")))
	assert.Equal(t, []string{"b", "c"}, r.IDs())
	assert.Equal(t, "a", c.ID())
}

func TestRegistryPopEmpty(t *testing.T) {
	r := NewRegistry(1)
	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestRegistryDrain(t *testing.T) {
	r := NewRegistry(3)
	require.True(t, r.Register(newFakeClient("a")))
	require.True(t, r.Register(newFakeClient("b")))

	out := r.drain()
	assert.Len(t, out, 2)
	assert.Equal(t, 0, r.Len())
}
