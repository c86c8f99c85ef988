package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/auth"
	"github.com/vovakirdan/supportline/internal/config"
	"github.com/vovakirdan/supportline/internal/core"
	"github.com/vovakirdan/supportline/internal/proto"
	"github.com/vovakirdan/supportline/internal/store/sqlite"
)

const testSecret = "test-secret"

type testEnv struct {
	ts      *httptest.Server
	handler http.Handler
	auth    *auth.Service
	hub     *core.Hub
}

// startTestServer runs a hub and the full HTTP stack over in-memory sqlite.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(testSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	disabledLogger := zerolog.Nop()
	hub := core.NewHub(core.Options{Store: st, Logger: &disabledLogger})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	cfg := config.Default()
	cfg.Addr = ":0"
	if mutate != nil {
		mutate(&cfg)
	}

	server := NewServer(hub, authService, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})

	return &testEnv{ts: ts, handler: server.Handler, auth: authService, hub: hub}
}

// register creates an account directly through the auth service and returns its credential.
func (e *testEnv) register(t *testing.T, username string, role proto.Role) (string, proto.Sender) {
	t.Helper()

	if role == proto.RoleAdmin {
		user, err := e.auth.CreateUser(context.Background(), username, "password123", role)
		if err != nil {
			t.Fatalf("create admin: %v", err)
		}
		token, err := e.auth.IssueToken(user.Sender())
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		return token, user.Sender()
	}
	token, user, err := e.auth.Register(context.Background(), username, "password123", role)
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token, user.Sender()
}

// request performs a REST call against the handler and decodes a JSON answer into out.
func (e *testEnv) request(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)

	if out != nil && resp.Code < 300 {
		if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, resp.Body.String())
		}
	}
	return resp.Code
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

func dialWS(ctx context.Context, t *testing.T, e *testEnv, token string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, e.wsURL(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendCommand(ctx context.Context, t *testing.T, conn *websocket.Conn, cmd proto.Command) {
	t.Helper()

	in, err := proto.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("encode %T: %v", cmd, err)
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("write %T: %v", cmd, err)
	}
}

// readUntil reads events until one of type T arrives.
func readUntil[T proto.Event](ctx context.Context, t *testing.T, conn *websocket.Conn) T {
	t.Helper()

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			var zero T
			t.Fatalf("waiting for %T: %v", zero, err)
		}
		ev, err := proto.DecodeEvent(out)
		if err != nil {
			t.Fatalf("decode %+v: %v", out, err)
		}
		if v, ok := ev.(T); ok {
			return v
		}
	}
}
