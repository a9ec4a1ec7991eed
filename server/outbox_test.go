package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlsync/broadcaster"
)

func TestOutboxFIFOAndClose(t *testing.T) {
	o := newOutbox(2)
	require.NoError(t, o.Send([]byte("a")))
	require.NoError(t, o.Send([]byte("b")))

	msg, ok := o.next()
	require.True(t, ok)
	assert.Equal(t, "a", string(msg))
	require.NoError(t, o.Send([]byte("c")))

	o.close()
	assert.ErrorIs(t, o.Send([]byte("d")), errOutboxClosed)
	assert.False(t, o.failed())

	// queued messages drain before next reports closed
	msg, _ = o.next()
	assert.Equal(t, "b", string(msg))
	msg, _ = o.next()
	assert.Equal(t, "c", string(msg))
	_, ok = o.next()
	assert.False(t, ok)
}

func TestOutboxOverflowFails(t *testing.T) {
	o := newOutbox(2)
	require.NoError(t, o.Send([]byte("a")))
	require.NoError(t, o.Send([]byte("b")))
	assert.ErrorIs(t, o.Send([]byte("c")), broadcaster.ErrSlowConsumer)
	assert.True(t, o.failed())

	// nothing more is accepted and nothing pending is delivered
	assert.ErrorIs(t, o.Send([]byte("d")), errOutboxClosed)
	_, ok := o.next()
	assert.False(t, ok)
}

func TestOutboxWakesWriter(t *testing.T) {
	o := newOutbox(4)
	got := make(chan string)
	go func() {
		msg, _ := o.next()
		got <- string(msg)
	}()
	require.NoError(t, o.Send([]byte("x")))
	assert.Equal(t, "x", <-got)
}
