package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsSlashy/Protocol-01-sub006/adapters/events"
	"github.com/IsSlashy/Protocol-01-sub006/adapters/store"
	"github.com/IsSlashy/Protocol-01-sub006/adapters/tokenizer"
	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/internal/monitoring"
	"github.com/IsSlashy/Protocol-01-sub006/protocol"
	"github.com/IsSlashy/Protocol-01-sub006/service"
)

type testServer struct {
	router *gin.Engine
	client *service.Client
	now    time.Time
	pub    ed25519.PublicKey
	priv   ed25519.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	now := time.Now().Truncate(time.Millisecond)
	clock := func() time.Time { return now }
	sessions := store.NewMemoryStore()

	client, err := service.NewClient(service.ClientConfig{
		ServiceID:   "svc",
		ServiceName: "Example",
		CallbackURL: "https://service.example/auth/callback",
	}, sessions, service.WithClock(clock), service.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	verifier, err := service.NewVerifier(service.VerifierConfig{ServiceID: "svc"},
		service.WithSessionLookup(sessions),
		service.WithVerifierClock(clock),
		service.WithVerifierLogger(logger),
	)
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &testServer{
		router: SetupRouter(Dependencies{
			Client:    client,
			Verifier:  verifier,
			Tokenizer: tokenizer.NewJWTTokenizer(key),
			Metrics:   monitoring.NewMetrics("p01auth"),
			Logger:    logger,
		}),
		client: client,
		now:    now,
		pub:    pub,
		priv:   priv,
	}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// createSession starts a login over HTTP and returns the stored session with
// the headers that authorize polling it.
func (s *testServer) createSession(t *testing.T) (core.AuthSession, map[string]string) {
	t.Helper()
	rec := s.do(http.MethodPost, "/auth/sessions", map[string]any{"ttl_ms": 60_000}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		SessionID  string `json:"session_id"`
		PollSecret string `json:"poll_secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.PollSecret)
	session, err := s.client.GetSession(context.Background(), body.SessionID)
	require.NoError(t, err)
	return session, map[string]string{HeaderPollSecret: body.PollSecret}
}

func (s *testServer) respond(session core.AuthSession) core.AuthResponse {
	ts := s.now.UnixMilli()
	wallet := protocol.WalletAddress(s.pub)
	return core.AuthResponse{
		SessionID: session.ID,
		Wallet:    wallet,
		PublicKey: wallet,
		Signature: protocol.SignMessage(s.priv, protocol.CreateSignMessage("svc", session.ID, session.Challenge, ts)),
		Timestamp: ts,
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/auth/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["session_id"], 32)
	assert.Len(t, body["poll_secret"], 64)
	assert.True(t, strings.HasPrefix(body["deep_link"].(string), "p01://auth?payload="))
	assert.True(t, strings.HasPrefix(body["qr_code_svg"].(string), "<svg"))
	assert.EqualValues(t, s.now.Add(protocol.DefaultSessionTTL).UnixMilli(), body["expires_at"])

	rec = s.do(http.MethodPost, "/auth/sessions", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/auth/sessions", map[string]any{"ttl_ms": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycleRoutes(t *testing.T) {
	s := newTestServer(t)
	session, auth := s.createSession(t)
	base := "/auth/sessions/" + session.ID

	rec := s.do(http.MethodGet, base, nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	view := body["session"].(map[string]any)
	assert.Equal(t, "pending", view["status"])
	assert.NotContains(t, view, "challenge")
	assert.NotContains(t, view, "pollSecretHash")
	assert.NotContains(t, body, "access_token")

	rec = s.do(http.MethodPost, base+"/scan", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, base+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, base+"/scan", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, rec)["code"])

	rec = s.do(http.MethodPost, base+"/reject", map[string]string{"reason": "declined"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", decode(t, rec)["session"].(map[string]any)["status"])

	rec = s.do(http.MethodGet, base+"/wait", nil, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_REJECTED", decode(t, rec)["code"])

	rec = s.do(http.MethodDelete, base, nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, base, nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found", decode(t, rec)["error"])
}

func TestCallbackIssuesAccessToken(t *testing.T) {
	s := newTestServer(t)
	session, auth := s.createSession(t)
	resp := s.respond(session)

	rec := s.do(http.MethodPost, "/auth/callback", resp, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, resp.Wallet, body["wallet"])

	rec = s.do(http.MethodPost, "/auth/callback", resp, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Session already completed", decode(t, rec)["error"])

	rec = s.do(http.MethodGet, "/auth/sessions/"+session.ID+"/wait?timeout_ms=1000&poll_ms=10", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	view := body["session"].(map[string]any)
	assert.Equal(t, resp.Wallet, view["wallet"])
	assert.NotContains(t, view, "signature")
	assert.NotContains(t, view, "publicKey")
	token, ok := body["access_token"].(string)
	require.True(t, ok)
	assert.Equal(t, "Bearer", body["token_type"])

	rec = s.do(http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, resp.Wallet, body["wallet"])
	assert.Equal(t, session.ID, body["session_id"])
}

func TestCallbackErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/auth/callback", "[]", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	session, _ := s.createSession(t)
	resp := s.respond(session)
	resp.Timestamp++
	rec = s.do(http.MethodPost, "/auth/callback", resp, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", decode(t, rec)["code"])

	resp.SessionID = "missing"
	rec = s.do(http.MethodPost, "/auth/callback", resp, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWaitTimeout(t *testing.T) {
	s := newTestServer(t)
	session, auth := s.createSession(t)

	rec := s.do(http.MethodGet, "/auth/sessions/"+session.ID+"/wait?timeout_ms=20&poll_ms=5", nil, auth)
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Equal(t, "TIMEOUT", decode(t, rec)["code"])

	rec = s.do(http.MethodGet, "/auth/sessions/"+session.ID+"/wait?timeout_ms=soon", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyAndHeaderAuth(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.createSession(t)
	resp := s.respond(session)

	rec := s.do(http.MethodPost, "/auth/verify", resp, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["success"])

	header, err := service.EncodeAuthHeader(resp)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/api/me", nil, map[string]string{service.HeaderAuth: header})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resp.Wallet, decode(t, rec)["wallet"])

	rec = s.do(http.MethodGet, "/api/me", nil, map[string]string{service.HeaderAuth: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscriptionWithoutMint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/auth/subscription/"+protocol.WalletAddress(s.pub), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	s.createSession(t)
	rec = s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "p01auth_sessions_created_total 1")
	assert.Contains(t, rec.Body.String(), `p01auth_http_requests_total{endpoint="/health",method="GET",status="200"} 1`)
}

func TestSessionEventsWebsocket(t *testing.T) {
	s := newTestServer(t)
	session, auth := s.createSession(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/auth/sessions/" + session.ID + "/events?secret=" + auth[HeaderPollSecret]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() events.EventEnvelope {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var env events.EventEnvelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	first := read()
	assert.Equal(t, core.EventSessionCreated, first.Type)
	assert.Equal(t, core.StatusPending, first.Status)

	ctx := context.Background()
	_, err = s.client.MarkScanned(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EventSessionScanned, read().Type)

	result := s.client.HandleCallback(ctx, s.respond(session))
	require.True(t, result.Success)
	completed := read()
	assert.Equal(t, core.EventSessionCompleted, completed.Type)
	assert.Equal(t, result.Wallet, completed.Wallet)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestSessionEventsUnknownSession(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/auth/sessions/missing/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Anyone who photographs the QR code learns the session id and challenge. That
// must not let them read the session, take the access token or cancel it.
func TestDeepLinkAloneGrantsNothing(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/auth/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	owner := map[string]string{HeaderPollSecret: created["poll_secret"].(string)}

	payload, err := protocol.ParseDeepLink(created["deep_link"].(string))
	require.NoError(t, err)
	id := payload.SessionID
	base := "/auth/sessions/" + id

	// the real wallet completes the login
	session, err := s.client.GetSession(context.Background(), id)
	require.NoError(t, err)
	resp := s.respond(session)
	rec = s.do(http.MethodPost, "/auth/callback", resp, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	onlookers := map[string]map[string]string{
		"no secret":        nil,
		"challenge":        {HeaderPollSecret: payload.Challenge},
		"session id":       {HeaderPollSecret: id},
		"another's secret": {HeaderPollSecret: s.secretOfNewSession(t)},
	}
	for name, headers := range onlookers {
		for _, path := range []string{base, base + "/wait?timeout_ms=50&poll_ms=5", base + "/events"} {
			rec := s.do(http.MethodGet, path, nil, headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s: GET %s", name, path)
			assert.NotContains(t, rec.Body.String(), "access_token", "%s: GET %s", name, path)
			assert.Equal(t, "POLL_SECRET_INVALID", decode(t, rec)["code"])
		}
		rec = s.do(http.MethodGet, base+"?secret="+payload.Challenge, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)

		rec = s.do(http.MethodDelete, base, nil, headers)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s: DELETE", name)
	}

	// the session survived every attempt and its owner still gets the token
	rec = s.do(http.MethodGet, base, nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["session"].(map[string]any)["status"])
	token, ok := body["access_token"].(string)
	require.True(t, ok)

	rec = s.do(http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resp.Wallet, decode(t, rec)["wallet"])

	rec = s.do(http.MethodGet, base+"?secret="+owner[HeaderPollSecret], nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func (s *testServer) secretOfNewSession(t *testing.T) string {
	t.Helper()
	_, auth := s.createSession(t)
	return auth[HeaderPollSecret]
}
