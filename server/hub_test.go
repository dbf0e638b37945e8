package server_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/caltrain/server"
)

func TestClientTrySend(t *testing.T) {
	client := server.NewClient("a", "sf", 1)

	assert.True(t, client.TrySend([]byte("one")))
	assert.False(t, client.TrySend([]byte("two")), "buffer is full")

	assert.Equal(t, "one", string(<-client.Send))

	client.Close()
	client.Close()
	assert.False(t, client.TrySend([]byte("three")))

	_, ok := <-client.Send
	assert.False(t, ok)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := server.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := server.NewClient("a", "sf", 4)
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"sf"}, hub.Stations())

	hub.Broadcast("sf", []byte("board"))
	select {
	case msg := <-client.Send:
		assert.Equal(t, "board", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}

	cancel()
	<-done

	assert.Equal(t, 0, hub.ClientCount())
	_, ok := <-client.Send
	assert.False(t, ok)

	// A late pong after shutdown is dropped
	assert.False(t, client.TrySend([]byte(`{"type":"pong"}`)))
}

func TestGzipMiddleware(t *testing.T) {
	_, err := server.GzipMiddleware(http.NotFoundHandler(), server.DefaultGzipLevel)
	require.NoError(t, err)

	_, err = server.GzipMiddleware(http.NotFoundHandler(), 42)
	assert.Error(t, err)
}
