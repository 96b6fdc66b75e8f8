package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpanvictor/migoto-coach/pkg/io/device"
)

func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-conns:
		return conn
	case <-time.After(time.Second):
		t.Fatal("server side of the connection never arrived")
		return nil
	}
}

func TestSendDoesNotBlockOnStalledClient(t *testing.T) {
	s := NewSession("learner-1", "", serverConn(t), device.Capabilities{})

	// no writer is running, so the queue only fills
	for i := 0; i < outboundQueue; i++ {
		require.NoError(t, s.SendWebSocketMessage(MessageTypeState, StateMessage{From: "speaking", To: "idle"}))
	}

	start := time.Now()
	err := s.SendWebSocketMessage(MessageTypeState, StateMessage{From: "speaking", To: "idle"})
	assert.ErrorIs(t, err, errSlowClient)
	assert.Less(t, time.Since(start), writeWait)

	assert.Eventually(t, func() bool { return !s.IsAlive() }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, s.SendWebSocketMessage(MessageTypeState, StateMessage{From: "speaking", To: "idle"}), errSessionClosed)
}

func TestSendAfterCloseFails(t *testing.T) {
	s := NewSession("learner-1", "", serverConn(t), device.Capabilities{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.SendError("X", "y"), errSessionClosed)
}
