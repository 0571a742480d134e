package postmsg_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atsika/postmsg"
	"github.com/atsika/postmsg/examples/loopback"
)

func waitOpen(t *testing.T, c *postmsg.Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Snapshot().State == postmsg.StateSessionOpen
	}, 2*time.Second, time.Millisecond, "session should reach SessionOpen")
}

func TestIntegrationLoopbackHandshakeOpensBothSides(t *testing.T) {
	a, b := loopback.NewPair()
	host, err := postmsg.New(a)
	require.NoError(t, err)
	remote, err := postmsg.New(b)
	require.NoError(t, err)

	waitOpen(t, host)
	waitOpen(t, remote)

	hostSnap := host.Snapshot()
	remoteSnap := remote.Snapshot()
	assert.Equal(t, hostSnap.Version, remoteSnap.Version)
	assert.NotZero(t, hostSnap.TxChunkSize)
	assert.NotZero(t, hostSnap.RxChunkSize)
}

func TestIntegrationLoopbackObjectDeliveredEndToEnd(t *testing.T) {
	a, b := loopback.NewPair()
	host, err := postmsg.New(a)
	require.NoError(t, err)
	remote, err := postmsg.New(b)
	require.NoError(t, err)

	waitOpen(t, host)
	waitOpen(t, remote)

	received := make(chan any, 1)
	require.NoError(t, remote.On(postmsg.EventMessage, func(payload any) {
		received <- payload
	}))

	require.NoError(t, host.PostMessage(map[string]any{"kind": "ping", "seq": float64(1)}))

	select {
	case msg := <-received:
		m, ok := msg.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ping", m["kind"])
		assert.Equal(t, float64(1), m["seq"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for object to arrive")
	}
}

func TestIntegrationLoopbackConnectedEvent(t *testing.T) {
	a, b := loopback.NewPair()
	host, err := postmsg.New(a)
	require.NoError(t, err)
	_, err = postmsg.New(b)
	require.NoError(t, err)

	connected := make(chan struct{}, 1)
	require.NoError(t, host.On(postmsg.EventConnected, func(any) {
		select {
		case connected <- struct{}{}:
		default:
		}
	}))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connected event")
	}
	waitOpen(t, host)
}

func TestIntegrationLoopbackDropForcesRetryThenDelivers(t *testing.T) {
	a, b := loopback.NewPair()
	host, err := postmsg.New(a, postmsg.WithMaxRetries(5), postmsg.WithRetryBackoff(20*time.Millisecond))
	require.NoError(t, err)
	remote, err := postmsg.New(b, postmsg.WithMaxRetries(5), postmsg.WithRetryBackoff(20*time.Millisecond))
	require.NoError(t, err)

	waitOpen(t, host)
	waitOpen(t, remote)

	received := make(chan any, 1)
	require.NoError(t, remote.On(postmsg.EventMessage, func(payload any) {
		received <- payload
	}))

	// Force every send to fail for a window comfortably wider than a
	// couple of backoff intervals, then let it through so the message
	// arrives only after at least one retry.
	a.Drop = true
	go func() {
		time.Sleep(50 * time.Millisecond)
		a.Drop = false
	}()

	require.NoError(t, host.PostMessage(map[string]any{"retried": true}))

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for object to arrive after a forced retry")
	}

	assert.Greater(t, host.Snapshot().ObjectRetries, int64(0), "a forced drop should have counted at least one object retry")
}
