package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	ch1, _ := b.Subscribe(1)
	ch2, _ := b.Subscribe(1)

	b.Publish(Transition{SessionID: "s1", Status: "paused"})

	require.Equal(t, Transition{SessionID: "s1", Status: "paused"}, <-ch1)
	require.Equal(t, Transition{SessionID: "s1", Status: "paused"}, <-ch2)
}

func TestPublishDropsOnFullBufferWithoutBlocking(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe(1)

	b.Publish(Transition{SessionID: "s1", Status: "running"})
	done := make(chan struct{})
	go func() {
		b.Publish(Transition{SessionID: "s1", Status: "paused"}) // buffer full, dropped
		close(done)
	}()
	<-done // must not block

	first := <-ch
	require.Equal(t, "running", first.Status)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(1)
	unsubscribe()

	_, ok := <-ch
	require.False(t, ok)
}
