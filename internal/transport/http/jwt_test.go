package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/supportline/internal/proto"
)

func makeJWT(secret, aud, iss, sub, name string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":      sub,
		"user_id":  sub,
		"username": name,
		"role":     string(proto.RoleStudent),
		"exp":      time.Now().Add(ttl).Unix(),
		"iat":      time.Now().Unix(),
		"aud":      aud,
		"iss":      iss,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func TestWebSocketRejectsForeignTokens(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cases := map[string]struct {
		secret, aud, iss string
		ttl              time.Duration
	}{
		"wrong secret":   {"other", "test", "test", time.Hour},
		"wrong audience": {testSecret, "someone-else", "test", time.Hour},
		"wrong issuer":   {testSecret, "test", "someone-else", time.Hour},
		"expired":        {testSecret, "test", "test", -time.Minute},
	}
	for name, tc := range cases {
		token, err := makeJWT(tc.secret, tc.aud, tc.iss, "u1", "sam", tc.ttl)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		_, resp, err := websocket.Dial(ctx, env.wsURL(), &websocket.DialOptions{HTTPHeader: header})
		if err == nil {
			t.Fatalf("%s: handshake should fail", name)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %+v", name, resp)
		}
	}
}

func TestRESTRejectsMalformedAuthorization(t *testing.T) {
	env := startTestServer(t, nil)

	req := func(header string) int {
		r, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/me", nil)
		r.Header.Set("Authorization", header)
		resp, err := env.ts.Client().Do(r)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	for _, header := range []string{"Token abc", "Bearer", "Bearer "} {
		if code := req(header); code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, code)
		}
	}
}
