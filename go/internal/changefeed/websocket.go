package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

// WireType tags frames sent by the session gateway.
type WireType string

const (
	// WireReady is sent once the connection is registered for broadcasts.
	WireReady  WireType = "ready"
	WireChange WireType = "change"
)

// WireMessage is a frame on the /ws/session websocket.
type WireMessage struct {
	Type  WireType `json:"type"`
	Event *Event   `json:"event,omitempty"`
}

// SessionSocketPath is the gateway route serving session feeds.
const SessionSocketPath = "/ws/session"

// WebSocketSubscriber subscribes through the session gateway.
type WebSocketSubscriber struct {
	baseURL      string
	userName     string
	dialer       *websocket.Dialer
	readyTimeout time.Duration
	buffer       int
}

// NewWebSocketSubscriber creates a subscriber for the gateway at baseURL (http or ws scheme).
func NewWebSocketSubscriber(baseURL, userName string) *WebSocketSubscriber {
	return &WebSocketSubscriber{
		baseURL:      baseURL,
		userName:     userName,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		readyTimeout: 10 * time.Second,
		buffer:       64,
	}
}

// SocketURL builds the websocket URL for a session feed.
func SocketURL(baseURL string, sessionID uuid.UUID, userName string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	u.Path += SessionSocketPath
	q := url.Values{}
	q.Set("session_id", sessionID.String())
	if userName != "" {
		q.Set("user_name", userName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the gateway and returns once the gateway confirmed the registration.
// A missing session is reported as models.ErrNotFound.
func (s *WebSocketSubscriber) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan Event, error) {
	target, err := SocketURL(s.baseURL, sessionID, s.userName)
	if err != nil {
		return nil, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("dial session feed: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("dial session feed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.readyTimeout))
	var first WireMessage
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wait for feed ready: %w", err)
	}
	if first.Type != WireReady {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", first.Type)
	}
	conn.SetReadDeadline(time.Time{})

	out := make(chan Event, s.buffer)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		case <-done:
		}
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("session feed closed")
				}
				return
			}
			var msg WireMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn().Err(err).Msg("skipping undecodable feed frame")
				continue
			}
			if msg.Type != WireChange || msg.Event == nil {
				continue
			}
			select {
			case out <- *msg.Event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
