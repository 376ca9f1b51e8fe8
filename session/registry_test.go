package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_InsertRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Insert(&Session{RoomName: "room-a"}))
	assert.False(t, r.Insert(&Session{RoomName: "room-a"}))
	assert.True(t, r.Insert(&Session{RoomName: "room-b"}))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Insert(&Session{RoomName: "room-a"}))
	r.Remove("room-a")
	r.Remove("room-a")
	r.Remove("never-existed")
	assert.Equal(t, 0, r.Len())

	_, ok := r.Get("room-a")
	assert.False(t, ok)
}

func TestRegistry_ReinsertAfterRemove(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Insert(&Session{RoomName: "room-a"}))
	r.Remove("room-a")
	assert.True(t, r.Insert(&Session{RoomName: "room-a"}))
}

func TestRegistry_NamesAndAll(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Insert(&Session{RoomName: "x"}))
	require.True(t, r.Insert(&Session{RoomName: "y"}))

	assert.ElementsMatch(t, []string{"x", "y"}, r.Names())
	assert.Len(t, r.All(), 2)
}
