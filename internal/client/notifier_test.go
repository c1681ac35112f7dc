package client

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifier_DeliversInOrder(t *testing.T) {
	n := NewNotifier(nil)

	var (
		mu  sync.Mutex
		got []uint64
	)
	n.OnMessageReceived(func(e MessageReceived) {
		mu.Lock()
		got = append(got, e.Message.Seq)
		mu.Unlock()
	})

	for i := uint64(1); i <= 50; i++ {
		n.Emit(MessageReceived{Message: msg("alice", i)})
	}
	n.Close()

	assert.Len(t, got, 50)
	for i, seq := range got {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestNotifier_UnsubscribeAndKinds(t *testing.T) {
	n := NewNotifier(nil)

	var opened, states, removed int
	n.OnConnectionOpened(func(ConnectionOpened) { opened++ })
	n.OnStateChanged(func(StateChanged) { states++ })
	unsubscribe := n.OnConnectionOpened(func(ConnectionOpened) { removed++ })
	unsubscribe()
	unsubscribe()

	n.Emit(ConnectionOpened{})
	n.Emit(StateChanged{State: StateOpen})
	n.Close()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, states)
	assert.Zero(t, removed)

	// Emit after Close is dropped.
	n.Emit(ConnectionOpened{})
	n.Close()
	assert.Equal(t, 1, opened)
}

func TestNotifier_RecoversFromPanics(t *testing.T) {
	n := NewNotifier(nil)

	var delivered int
	n.OnSendFailed(func(SendFailed) { panic("boom") })
	n.OnSendFailed(func(SendFailed) { delivered++ })

	n.Emit(SendFailed{ClientRef: "a"})
	n.Emit(SendFailed{ClientRef: "b"})
	n.Close()

	assert.Equal(t, 2, delivered)
}
