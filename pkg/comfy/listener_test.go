package comfy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxomo030/comfyflow/internal/domain"
)

var testUpgrader = websocket.Upgrader{}

// eventServer runs a fake event channel. The handler receives the
// upgraded connection and a channel that closes when the client side
// goes away.
func eventServer(t *testing.T, handler func(conn *websocket.Conn, clientGone <-chan struct{})) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("clientId"))

		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		handler(conn, clientGone)
	}))
}

func writeEvent(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func TestWaitForCompletion(t *testing.T) {
	server := eventServer(t, func(conn *websocket.Conn, _ <-chan struct{}) {
		// Preview frames and unrelated events must all be skipped.
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
		writeEvent(t, conn, `{"type":"status","data":{}}`)
		writeEvent(t, conn, `{"type":"executing","data":{"node":"3","prompt_id":"job-1"}}`)
		writeEvent(t, conn, `{"type":"executing","data":{"node":null,"prompt_id":"other-job"}}`)
		writeEvent(t, conn, `not even json`)
		writeEvent(t, conn, `{"type":"executing","data":{"node":null,"prompt_id":"job-1"}}`)
	})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithWaitTimeout(5*time.Second))

	err := client.WaitForCompletion(context.Background(), "session-1", "job-1")
	assert.NoError(t, err)
}

func TestWaitForCompletionTimeout(t *testing.T) {
	connClosed := make(chan struct{})

	server := eventServer(t, func(_ *websocket.Conn, clientGone <-chan struct{}) {
		<-clientGone
		close(connClosed)
	})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithWaitTimeout(100*time.Millisecond))

	err := client.WaitForCompletion(context.Background(), "session-1", "job-1")
	assert.ErrorIs(t, err, domain.ErrExecutionTimeout)

	// The connection must be released, not leaked.
	select {
	case <-connClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("event channel connection was not closed after timeout")
	}
}

func TestWaitForCompletionCancelled(t *testing.T) {
	connClosed := make(chan struct{})

	server := eventServer(t, func(_ *websocket.Conn, clientGone <-chan struct{}) {
		<-clientGone
		close(connClosed)
	})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithWaitTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := client.WaitForCompletion(ctx, "session-1", "job-1")
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-connClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("event channel connection was not closed after cancellation")
	}
}

func TestWaitForCompletionTransportError(t *testing.T) {
	server := eventServer(t, func(conn *websocket.Conn, _ <-chan struct{}) {
		// Drop the connection before any completion event.
		conn.Close()
	})
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithWaitTimeout(5*time.Second))

	err := client.WaitForCompletion(context.Background(), "session-1", "job-1")
	require.Error(t, err)

	var transportErr *domain.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestWaitForCompletionUnreachableBackend(t *testing.T) {
	client := NewClient(WithBaseURL("http://127.0.0.1:1"), WithWaitTimeout(time.Second))

	err := client.WaitForCompletion(context.Background(), "session-1", "job-1")
	require.Error(t, err)

	var transportErr *domain.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestEventChannelURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
		wantErr bool
	}{
		{
			name:    "http becomes ws",
			baseURL: "http://backend:8188",
			want:    "ws://backend:8188/ws?clientId=session-1",
		},
		{
			name:    "https becomes wss",
			baseURL: "https://backend",
			want:    "wss://backend/ws?clientId=session-1",
		},
		{
			name:    "trailing slash collapses",
			baseURL: "http://backend:8188/",
			want:    "ws://backend:8188/ws?clientId=session-1",
		},
		{
			name:    "unsupported scheme",
			baseURL: "ftp://backend",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(WithBaseURL(tt.baseURL))

			got, err := client.eventChannelURL("session-1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
