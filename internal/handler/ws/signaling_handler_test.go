package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsechat-backend/internal/protocol"
	"pulsechat-backend/internal/repository/memory"
	"pulsechat-backend/internal/service/call"
	"pulsechat-backend/internal/service/presence"
	"pulsechat-backend/internal/service/relay"
	"pulsechat-backend/internal/signaling"
)

const testOrigin = "http://localhost:5173"

type hubFixture struct {
	hub      *SignalingHub
	registry *presence.Registry
	server   *httptest.Server
}

func newHubFixture(t *testing.T, cfg HubConfig) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := presence.NewRegistry()
	groups := memory.NewGroupRepository()
	r := relay.New(registry, groups, nil)
	dispatcher := signaling.NewDispatcher(registry, r,
		call.NewDirectMachine(memory.NewDirectCallRepository(), r),
		call.NewGroupMachine(memory.NewGroupCallRepository(), groups, r))

	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{testOrigin}
	}
	hub := NewSignalingHub(dispatcher, cfg)

	router := gin.New()
	router.GET("/ws", hub.ServeWS)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &hubFixture{hub: hub, registry: registry, server: server}
}

func (f *hubFixture) url(userID string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?userId=" + userID
}

func (f *hubFixture) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	header := http.Header{"Origin": []string{testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(f.url(userID.String()), header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one named event arrives
func readUntil(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Event != event {
			continue
		}
		var data map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &data))
		return data
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func TestServeWS_RejectsInvalidUserID(t *testing.T) {
	f := newHubFixture(t, HubConfig{})

	for _, query := range []string{"", "not-a-uuid", uuid.Nil.String()} {
		resp, err := http.Get(f.server.URL + "/ws?userId=" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "userId=%q", query)
	}
	assert.Equal(t, 0, f.hub.ClientCount())
}

func TestServeWS_RejectsUnknownOrigin(t *testing.T) {
	f := newHubFixture(t, HubConfig{})

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url(uuid.NewString()), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeWS_RelaysBetweenSockets(t *testing.T) {
	f := newHubFixture(t, HubConfig{})
	alice, bob := uuid.New(), uuid.New()

	aliceConn := f.dial(t, alice)
	bobConn := f.dial(t, bob)
	require.Eventually(t, func() bool { return f.registry.IsOnline(bob) }, time.Second, 10*time.Millisecond)

	send(t, aliceConn, protocol.EventChatTyping, map[string]any{"toUserId": bob})

	data := readUntil(t, bobConn, protocol.EventChatTyping)
	assert.Equal(t, alice.String(), data["fromUserId"])
}

func TestServeWS_HeartbeatAck(t *testing.T) {
	f := newHubFixture(t, HubConfig{})
	conn := f.dial(t, uuid.New())

	send(t, conn, protocol.EventHeartbeat, map[string]any{"t": 1})

	data := readUntil(t, conn, protocol.EventHeartbeatAck)
	assert.NotZero(t, data["t"])
}

func TestServeWS_CloseUnregisters(t *testing.T) {
	f := newHubFixture(t, HubConfig{})
	user := uuid.New()

	conn := f.dial(t, user)
	require.Eventually(t, func() bool { return f.registry.IsOnline(user) }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool {
		return !f.registry.IsOnline(user) && f.hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_MaxConnections(t *testing.T) {
	f := newHubFixture(t, HubConfig{MaxConnections: 1})

	f.dial(t, uuid.New())

	header := http.Header{"Origin": []string{testOrigin}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url(uuid.NewString()), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestShutdown_ClosesSockets(t *testing.T) {
	f := newHubFixture(t, HubConfig{})
	user := uuid.New()
	conn := f.dial(t, user)
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.hub.Shutdown(ctx))

	assert.False(t, f.registry.IsOnline(user))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
