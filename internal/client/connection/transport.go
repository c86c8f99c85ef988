package connection

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/supportline/internal/proto"
)

// Stream is one established transport session.
type Stream interface {
	Read(ctx context.Context) (proto.Outbound, error)
	Write(ctx context.Context, in proto.Inbound) error
	Close() error
}

// Transport dials streams. Managers try their transports in preference order.
type Transport interface {
	Name() string
	Dial(ctx context.Context, endpoint, credential string) (Stream, error)
}

// WebSocket is the primary streaming transport.
type WebSocket struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

// Name implements Transport.
func (WebSocket) Name() string { return "websocket" }

// Dial opens a websocket carrying the credential as a bearer token.
func (w WebSocket) Dial(ctx context.Context, endpoint, credential string) (Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: w.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	limit := w.ReadLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	conn.SetReadLimit(limit)

	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Read(ctx context.Context) (proto.Outbound, error) {
	var out proto.Outbound
	if err := wsjson.Read(ctx, s.conn, &out); err != nil {
		return proto.Outbound{}, err
	}
	return out, nil
}

func (s *wsStream) Write(ctx context.Context, in proto.Inbound) error {
	return wsjson.Write(ctx, s.conn, in)
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
