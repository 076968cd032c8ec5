package message

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pulsechat-backend/internal/domain"
	"pulsechat-backend/internal/protocol"
	"pulsechat-backend/internal/repository/memory"
	"pulsechat-backend/internal/service/presence"
	"pulsechat-backend/internal/service/presence/presencetest"
	"pulsechat-backend/internal/service/relay"
)

// MockMessageStore is a mock implementation of MessageStore
type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Save(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

type fixture struct {
	store    *MockMessageStore
	groups   *memory.GroupRepository
	registry *presence.Registry
	router   *gin.Engine
}

func newFixture(t *testing.T, senderID uuid.UUID) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:    new(MockMessageStore),
		groups:   memory.NewGroupRepository(),
		registry: presence.NewRegistry(),
		router:   gin.New(),
	}
	r := relay.New(f.registry, f.groups, nil)

	v1 := f.router.Group("/v1", func(c *gin.Context) {
		c.Set("user_id", senderID)
		c.Next()
	})
	NewHandler(f.store, f.groups, r).RegisterRoutes(v1)
	return f
}

func (f *fixture) post(path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	return w
}

func TestSendDirect_PersistsAndRelays(t *testing.T) {
	sender, receiver := uuid.New(), uuid.New()
	f := newFixture(t, sender)
	conn := presencetest.NewConn()
	f.registry.Register(receiver, conn)

	f.store.On("Save", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.SenderID == sender && m.ReceiverID != nil && *m.ReceiverID == receiver && m.Text == "hello"
	})).Return(nil).Once()

	w := f.post("/v1/messages/"+receiver.String(), `{"text":"  hello "}`)

	require.Equal(t, http.StatusCreated, w.Code)
	f.store.AssertExpectations(t)

	got, ok := conn.Last(protocol.EventNewMessage)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Payload["text"])
	assert.Equal(t, sender.String(), got.Payload["senderId"])
}

func TestSendDirect_OfflineReceiverStillSucceeds(t *testing.T) {
	f := newFixture(t, uuid.New())
	f.store.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	w := f.post("/v1/messages/"+uuid.NewString(), `{"image":"https://cdn.example.com/a.png"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSendDirect_Validation(t *testing.T) {
	f := newFixture(t, uuid.New())

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad receiver", "/v1/messages/nope", `{"text":"hi"}`},
		{"empty", "/v1/messages/" + uuid.NewString(), `{"text":"   "}`},
		{"malformed", "/v1/messages/" + uuid.NewString(), `{"text":`},
		{"too long", "/v1/messages/" + uuid.NewString(), `{"text":"` + strings.Repeat("a", 10001) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.post(tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	f.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestSendDirect_StoreFailureIsNotRelayed(t *testing.T) {
	receiver := uuid.New()
	f := newFixture(t, uuid.New())
	conn := presencetest.NewConn()
	f.registry.Register(receiver, conn)
	f.store.On("Save", mock.Anything, mock.Anything).Return(errors.New("no hosts available")).Once()

	w := f.post("/v1/messages/"+receiver.String(), `{"text":"hi"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, conn.Named(protocol.EventNewMessage))
}

func TestSendGroup_FansOutExceptSender(t *testing.T) {
	sender, a, b := uuid.New(), uuid.New(), uuid.New()
	groupID := uuid.New()
	f := newFixture(t, sender)
	f.groups.Put(domain.Group{GroupID: groupID, Members: []uuid.UUID{sender, a, b}})

	senderConn, aConn, bConn := presencetest.NewConn(), presencetest.NewConn(), presencetest.NewConn()
	f.registry.Register(sender, senderConn)
	f.registry.Register(a, aConn)
	f.registry.Register(b, bConn)

	f.store.On("Save", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.GroupID != nil && *m.GroupID == groupID
	})).Return(nil).Once()

	w := f.post("/v1/group-messages/"+groupID.String(), `{"text":"standup"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, aConn.Named(protocol.EventGroupNewMessage), 1)
	assert.Len(t, bConn.Named(protocol.EventGroupNewMessage), 1)
	assert.Empty(t, senderConn.Named(protocol.EventGroupNewMessage))
}

func TestSendGroup_UnknownGroupAndNonMember(t *testing.T) {
	sender := uuid.New()
	groupID := uuid.New()
	f := newFixture(t, sender)

	w := f.post("/v1/group-messages/"+groupID.String(), `{"text":"hi"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.groups.Put(domain.Group{GroupID: groupID, Members: []uuid.UUID{uuid.New()}})
	w = f.post("/v1/group-messages/"+groupID.String(), `{"text":"hi"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	f.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRegisterRoutes_AppliesLimiters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	blocked := func(c *gin.Context) {
		c.AbortWithStatus(http.StatusTooManyRequests)
	}
	NewHandler(new(MockMessageStore), memory.NewGroupRepository(), relay.New(presence.NewRegistry(), nil, nil)).
		RegisterRoutes(router.Group("/v1"), blocked)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/"+uuid.NewString(), bytes.NewBufferString(`{"text":"hi"}`))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
