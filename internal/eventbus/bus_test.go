package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	game, unsubGame := b.Subscribe(4, "gamecode.")
	defer unsubGame()

	b.Publish(Event{Type: "gamecode.picked", Data: 2})
	b.Publish(Event{Type: "config.reloaded"})

	require.Len(t, all, 2)
	require.Len(t, game, 1)
	e := <-game
	assert.Equal(t, "gamecode.picked", e.Type)
	assert.Equal(t, 2, e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "after"})
}
