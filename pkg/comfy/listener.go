package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/oxomo030/comfyflow/internal/domain"
)

// executionEvent is the structured shape of a text frame on the event
// channel. Binary frames carry preview data and are skipped without
// decoding.
type executionEvent struct {
	Type string `json:"type"`
	Data struct {
		Node     *string `json:"node"`
		PromptID string  `json:"prompt_id"`
	} `json:"data"`
}

// isCompletionOf reports whether this event signals that the given job
// finished: executing state, no node currently running, matching id.
func (e executionEvent) isCompletionOf(promptID string) bool {
	return e.Type == "executing" && e.Data.Node == nil && e.Data.PromptID == promptID
}

type eventFrame struct {
	messageType int
	payload     []byte
	err         error
}

// WaitForCompletion opens the event channel for the given client
// session and blocks until the backend signals that the submitted job
// finished. It returns domain.ErrExecutionTimeout when no completion
// event arrives within the configured wait timeout, ctx.Err() on
// caller cancellation, and a domain.TransportError on channel failure.
// The websocket connection is closed on every exit path.
func (c *Client) WaitForCompletion(ctx context.Context, clientID, promptID string) error {
	wsURL, err := c.eventChannelURL(clientID)
	if err != nil {
		return &domain.TransportError{Err: err}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &domain.TransportError{Err: fmt.Errorf("dialing event channel: %w", err)}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	frames := make(chan eventFrame)
	done := make(chan struct{})
	defer close(done)

	// The reader goroutine exits when the connection is closed, which
	// the deferred Close above guarantees on every return below, or
	// when the wait loop has already returned.
	go func() {
		for {
			messageType, payload, err := conn.ReadMessage()

			select {
			case frames <- eventFrame{messageType: messageType, payload: payload, err: err}:
			case <-done:
				return
			}

			if err != nil {
				return
			}
		}
	}()

	deadline := time.NewTimer(c.config.WaitTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			log.Warn().
				Str("prompt_id", promptID).
				Dur("wait_timeout", c.config.WaitTimeout).
				Msg("Gave up waiting for completion event")

			return domain.ErrExecutionTimeout
		case frame := <-frames:
			if frame.err != nil {
				return &domain.TransportError{Err: frame.err}
			}

			if frame.messageType != websocket.TextMessage {
				continue
			}

			var event executionEvent
			if err := json.Unmarshal(frame.payload, &event); err != nil {
				// Unknown event shapes are noise, not failures.
				continue
			}

			if event.isCompletionOf(promptID) {
				log.Debug().
					Str("prompt_id", promptID).
					Msg("Execution completed")

				return nil
			}
		}
	}
}

// eventChannelURL derives the websocket endpoint from the configured
// base URL, keyed by the client session id.
func (c *Client) eventChannelURL(clientID string) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.config.BaseURL, err)
	}

	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	case "http":
		base.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", base.Scheme)
	}

	base.Path = strings.TrimSuffix(base.Path, "/") + "/ws"
	base.RawQuery = url.Values{"clientId": {clientID}}.Encode()

	return base.String(), nil
}
