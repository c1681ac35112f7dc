package websocket

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameAllowlist(t *testing.T) {
	w := NewFrameAllowlist("send_message", "", "send_message")

	assert.True(t, w.IsAllowed("send_message"))
	assert.False(t, w.IsAllowed("get_online_users"))
	assert.False(t, w.IsAllowed(""))
	assert.Equal(t, []string{"send_message"}, w.Types())

	assert.NoError(t, w.Allow("get_online_users"))
	assert.ErrorIs(t, w.Allow("get_online_users"), ErrFrameAlreadyAllowed)
	assert.ErrorIs(t, w.Allow(""), ErrInvalidFrameType)
	assert.True(t, w.IsAllowed("get_online_users"))
}

func TestFrameAllowlist_Concurrent(t *testing.T) {
	w := NewFrameAllowlist()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = w.Allow("heartbeat")
		}()
		go func() {
			defer wg.Done()
			_ = w.IsAllowed("heartbeat")
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"heartbeat"}, w.Types())
}
