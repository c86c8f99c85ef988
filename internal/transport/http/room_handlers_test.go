package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vovakirdan/supportline/internal/proto"
)

func TestRegisterAndLogin(t *testing.T) {
	env := startTestServer(t, nil)

	var reg proto.AuthResponse
	code := env.request(t, http.MethodPost, "/api/register", "", proto.Credentials{Username: "alice", Password: "password123", Role: proto.RoleSupporter}, &reg)
	if code != http.StatusCreated || reg.Token == "" || reg.User.Role != proto.RoleSupporter {
		t.Fatalf("register: status %d body %+v", code, reg)
	}

	if code := env.request(t, http.MethodPost, "/api/register", "", proto.Credentials{Username: "alice", Password: "password123"}, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", code)
	}
	if code := env.request(t, http.MethodPost, "/api/register", "", proto.Credentials{Username: "root", Password: "password123", Role: proto.RoleAdmin}, nil); code != http.StatusBadRequest {
		t.Fatalf("admin self-registration must fail, got %d", code)
	}

	var login proto.AuthResponse
	if code := env.request(t, http.MethodPost, "/api/login", "", proto.Credentials{Username: "alice", Password: "password123"}, &login); code != http.StatusOK {
		t.Fatalf("login: status %d", code)
	}
	if login.User.ID != reg.User.ID {
		t.Fatalf("login returned another user: %+v", login.User)
	}
	if code := env.request(t, http.MethodPost, "/api/login", "", proto.Credentials{Username: "alice", Password: "wrong-password"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}

	var me proto.Sender
	if code := env.request(t, http.MethodGet, "/api/me", login.Token, nil, &me); code != http.StatusOK || me != reg.User {
		t.Fatalf("me: status %d body %+v", code, me)
	}
}

func TestRoomEndpoints(t *testing.T) {
	env := startTestServer(t, nil)
	studentToken, _ := env.register(t, "sammy", proto.RoleStudent)
	strangerToken, _ := env.register(t, "kimmy", proto.RoleStudent)
	supporterToken, _ := env.register(t, "alice", proto.RoleSupporter)
	adminToken, _ := env.register(t, "rooty", proto.RoleAdmin)

	if code := env.request(t, http.MethodPost, "/api/rooms", "", proto.CreateRoomRequest{Topic: "x"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := env.request(t, http.MethodPost, "/api/rooms", supporterToken, proto.CreateRoomRequest{Topic: "x"}, nil); code != http.StatusForbidden {
		t.Fatalf("supporters cannot open requests, got %d", code)
	}
	if code := env.request(t, http.MethodPost, "/api/rooms", studentToken, map[string]string{}, nil); code != http.StatusBadRequest {
		t.Fatalf("topic is required, got %d", code)
	}

	var room proto.Room
	if code := env.request(t, http.MethodPost, "/api/rooms", studentToken, proto.CreateRoomRequest{Topic: "exam stress"}, &room); code != http.StatusCreated {
		t.Fatalf("create: status %d", code)
	}
	if room.Status != proto.StatusWaiting || room.Urgency != proto.UrgencyMedium || room.StudentName != "sammy" {
		t.Fatalf("unexpected room %+v", room)
	}

	var queue []proto.QueueEntry
	if code := env.request(t, http.MethodGet, "/api/queue", supporterToken, nil, &queue); code != http.StatusOK || len(queue) != 1 || queue[0].RoomID != room.ID {
		t.Fatalf("queue: status %d body %+v", code, queue)
	}
	if code := env.request(t, http.MethodGet, "/api/queue", studentToken, nil, nil); code != http.StatusForbidden {
		t.Fatalf("students cannot read the queue, got %d", code)
	}

	var history []proto.Message
	if code := env.request(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages", studentToken, nil, &history); code != http.StatusOK || len(history) != 0 {
		t.Fatalf("history: status %d body %+v", code, history)
	}
	if code := env.request(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages", strangerToken, nil, nil); code != http.StatusForbidden {
		t.Fatalf("strangers cannot read history, got %d", code)
	}
	if code := env.request(t, http.MethodGet, "/api/rooms/ghost/messages", studentToken, nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	var mine []proto.Room
	if code := env.request(t, http.MethodGet, "/api/rooms", studentToken, nil, &mine); code != http.StatusOK || len(mine) != 1 {
		t.Fatalf("list: status %d body %+v", code, mine)
	}
	if code := env.request(t, http.MethodGet, "/api/rooms", strangerToken, nil, &mine); code != http.StatusOK || len(mine) != 0 {
		t.Fatalf("stranger list: status %d body %+v", code, mine)
	}

	if code := env.request(t, http.MethodPost, "/api/rooms/"+room.ID+"/resolve", adminToken, nil, nil); code != http.StatusConflict {
		t.Fatalf("waiting rooms cannot be resolved, got %d", code)
	}
	var closed proto.Room
	if code := env.request(t, http.MethodPost, "/api/rooms/"+room.ID+"/close", studentToken, nil, &closed); code != http.StatusOK || closed.Status != proto.StatusClosed {
		t.Fatalf("close: status %d body %+v", code, closed)
	}
	if code := env.request(t, http.MethodPost, "/api/rooms/"+room.ID+"/close", studentToken, nil, nil); code != http.StatusConflict {
		t.Fatalf("closing twice must conflict, got %d", code)
	}

	var snap proto.MetricsSnapshot
	if code := env.request(t, http.MethodGet, "/api/admin/metrics", adminToken, nil, &snap); code != http.StatusOK || snap.Closed != 1 {
		t.Fatalf("metrics: status %d body %+v", code, snap)
	}
	if code := env.request(t, http.MethodGet, "/api/admin/metrics", supporterToken, nil, nil); code != http.StatusForbidden {
		t.Fatalf("supporters cannot read metrics, got %d", code)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	env := startTestServer(t, nil)
	env.request(t, http.MethodGet, "/health", "", nil, nil)

	resp := httptest.NewRecorder()
	env.handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("metrics status %d", resp.Code)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "supportline_http_requests_total") {
		t.Fatalf("missing request counter in metrics output")
	}
}
