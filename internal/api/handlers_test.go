package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"dmchat/internal/config"
	"dmchat/internal/database"
	"dmchat/internal/server"
	"dmchat/internal/stats"
	"dmchat/internal/testutil"
	"dmchat/internal/types"
)

func newTestApp(t *testing.T, repo database.DmChatRepository, su *stats.MockStatsUpdater) *DmChatApp {
	t.Helper()

	su.On("RegisterMetric", mock.Anything).Times(4)

	logger := testutil.TestLogger(t)
	registry := server.NewRegistry(logger, repo, su)
	dispatcher := server.NewDispatcher(logger, registry, su)

	cfg := &config.Config{
		ServerAddr: "localhost:0",
		SigningKey: []byte("test-signing-key"),
	}

	return NewDmChatApp(http.NewServeMux(), logger, registry, dispatcher, repo, su, cfg)
}

func authedRequest(method, target string, body *bytes.Buffer, userId int) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	return req.WithContext(WithUserId(req.Context(), userId))
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockDmChatRepository{}
			defer mockRepo.AssertExpectations(t)
			su := &stats.MockStatsUpdater{}

			mockRepo.On("Ping").Return(tc.mockErr).Once()
			app := newTestApp(t, mockRepo, su)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestAddContactHandler(t *testing.T) {
	peer := database.User{
		Id:           2,
		ExternalId:   "pEeRiD01",
		Username:     "bob",
		EmailAddress: "bob@example.com",
	}
	me := database.User{
		Id:         1,
		ExternalId: "mEiD0001",
		Username:   "alice",
	}

	tcases := []struct {
		name           string
		body           any
		peerErr        error
		createErr      error
		self           bool
		expectedStatus int
		expectCreate   bool
	}{
		{
			name:           "successfully adds a contact",
			body:           AddContactRequest{ContactId: peer.ExternalId},
			expectedStatus: http.StatusCreated,
			expectCreate:   true,
		},
		{
			name:           "fails with invalid json body",
			body:           "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "fails with missing contact id",
			body:           AddContactRequest{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "fails when peer does not exist",
			body:           AddContactRequest{ContactId: "missing1"},
			peerErr:        database.ErrNotFound,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "fails when adding self",
			body:           AddContactRequest{ContactId: me.ExternalId},
			self:           true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "fails when pair already exists",
			body:           AddContactRequest{ContactId: peer.ExternalId},
			createErr:      database.ErrDuplicateContact,
			expectedStatus: http.StatusConflict,
			expectCreate:   true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockDmChatRepository{}
			defer mockRepo.AssertExpectations(t)
			su := &stats.MockStatsUpdater{}
			defer su.AssertExpectations(t)

			switch {
			case tc.self:
				mockRepo.On("GetAccountByExternalId", me.ExternalId).Return(me, nil).Once()
			case tc.peerErr != nil:
				mockRepo.On("GetAccountByExternalId", mock.Anything).Return(database.User{}, tc.peerErr).Once()
			case tc.expectCreate:
				mockRepo.On("GetAccountByExternalId", peer.ExternalId).Return(peer, nil).Once()
				mockRepo.On("CreateContactPair", me.Id, peer.Id).Return(tc.createErr).Once()
				if tc.createErr == nil {
					su.On("Incr", stats.ContactsAdded).Once()
					mockRepo.On("GetAccountById", me.Id).Return(me, nil).Once()
				}
			}

			app := newTestApp(t, mockRepo, su)

			var body []byte
			if v, ok := tc.body.(string); ok {
				body = []byte(v)
			} else {
				body, _ = json.Marshal(tc.body)
			}

			rr := httptest.NewRecorder()
			req := authedRequest(http.MethodPost, "/api/contacts", bytes.NewBuffer(body), me.Id)
			app.addContact(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")

			if tc.expectedStatus == http.StatusCreated {
				var u types.User
				assert.NoError(t, json.NewDecoder(rr.Body).Decode(&u), "expected valid json response")
				assert.Equal(t, peer.ExternalId, u.Id, "expected response to contain the peer's profile")
				assert.Equal(t, peer.Username, u.Username, "expected peer username in response")
			}
		})
	}
}

func TestListContactsHandler(t *testing.T) {
	contacts := []database.Contact{
		{Id: 2, UserId: 1, ContactId: 3, Peer: database.User{Id: 3, ExternalId: "cArOl001", Username: "carol"}},
		{Id: 1, UserId: 1, ContactId: 2, Peer: database.User{Id: 2, ExternalId: "bOb00001", Username: "bob"}},
	}

	mockRepo := &database.MockDmChatRepository{}
	defer mockRepo.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}

	mockRepo.On("ListContacts", 1).Return(contacts, nil).Once()
	app := newTestApp(t, mockRepo, su)

	rr := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/api/contacts", nil, 1)
	app.listContacts(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")

	var users []types.User
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&users), "expected valid json response")
	assert.Len(t, users, 2, "expected both contacts to be returned")
	assert.Equal(t, "carol", users[0].Username, "expected most recently added contact first")
	assert.Equal(t, "bob", users[1].Username, "expected older contact second")
}

func TestRemoveContactHandler(t *testing.T) {
	peer := database.User{Id: 2, ExternalId: "pEeRiD01", Username: "bob"}

	tcases := []struct {
		name           string
		query          string
		peerErr        error
		expectDelete   bool
		expectedStatus int
	}{
		{
			name:           "successfully removes a contact",
			query:          "?id=" + peer.ExternalId,
			expectDelete:   true,
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "removing an unknown peer is a no-op",
			query:          "?id=missing1",
			peerErr:        database.ErrNotFound,
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "fails with missing id",
			query:          "",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockDmChatRepository{}
			defer mockRepo.AssertExpectations(t)
			su := &stats.MockStatsUpdater{}

			if tc.query != "" {
				if tc.peerErr != nil {
					mockRepo.On("GetAccountByExternalId", mock.Anything).Return(database.User{}, tc.peerErr).Once()
				} else {
					mockRepo.On("GetAccountByExternalId", peer.ExternalId).Return(peer, nil).Once()
				}
			}
			if tc.expectDelete {
				mockRepo.On("DeleteContactPair", 1, peer.Id).Return(nil).Once()
			}

			app := newTestApp(t, mockRepo, su)

			rr := httptest.NewRecorder()
			req := authedRequest(http.MethodDelete, "/api/contacts"+tc.query, nil, 1)
			app.removeContact(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")
		})
	}
}

func TestSendMessageHandler(t *testing.T) {
	sender := database.User{Id: 1, ExternalId: "aLiCe001", Username: "alice"}
	receiver := database.User{Id: 2, ExternalId: "bOb00001", Username: "bob"}
	stored := database.Message{
		Id:         99,
		SenderId:   sender.Id,
		ReceiverId: receiver.Id,
		Content:    "hi",
		CreatedAt:  time.Now().UTC(),
	}

	tcases := []struct {
		name           string
		body           any
		receiverErr    error
		expectCreate   bool
		expectedStatus int
	}{
		{
			name:           "successfully sends a message",
			body:           SendMessageRequest{ReceiverId: receiver.ExternalId, Content: "hi"},
			expectCreate:   true,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "fails with invalid json body",
			body:           "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "fails with empty content",
			body:           SendMessageRequest{ReceiverId: receiver.ExternalId, Content: "   "},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "fails with unknown receiver",
			body:           SendMessageRequest{ReceiverId: "missing1", Content: "hi"},
			receiverErr:    database.ErrNotFound,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockDmChatRepository{}
			defer mockRepo.AssertExpectations(t)
			su := &stats.MockStatsUpdater{}
			defer su.AssertExpectations(t)

			if tc.receiverErr != nil {
				mockRepo.On("GetAccountByExternalId", mock.Anything).Return(database.User{}, tc.receiverErr).Once()
			} else if tc.expectCreate {
				mockRepo.On("GetAccountByExternalId", receiver.ExternalId).Return(receiver, nil).Once()
				mockRepo.On("GetAccountById", sender.Id).Return(sender, nil).Once()
				mockRepo.On("CreateMessage", sender.Id, receiver.Id, "hi").Return(stored, nil).Once()
				su.On("Incr", stats.MessagesSent).Once()
			}

			app := newTestApp(t, mockRepo, su)

			var body []byte
			if v, ok := tc.body.(string); ok {
				body = []byte(v)
			} else {
				body, _ = json.Marshal(tc.body)
			}

			rr := httptest.NewRecorder()
			req := authedRequest(http.MethodPost, "/api/messages", bytes.NewBuffer(body), sender.Id)
			app.sendMessage(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")

			if tc.expectedStatus == http.StatusCreated {
				var msg types.Message
				assert.NoError(t, json.NewDecoder(rr.Body).Decode(&msg), "expected valid json response")
				assert.Equal(t, stored.Id, msg.Id, "expected stored message id")
				assert.Equal(t, sender.ExternalId, msg.Sender.Id, "expected populated sender profile")
				assert.Equal(t, receiver.ExternalId, msg.Receiver.Id, "expected populated receiver profile")
				assert.False(t, msg.Read, "expected a fresh message to be unread")
			}
		})
	}
}

func TestGetConversationHandler(t *testing.T) {
	me := database.User{Id: 1, ExternalId: "aLiCe001", Username: "alice"}
	peer := database.User{Id: 2, ExternalId: "bOb00001", Username: "bob"}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// the store returns rows newest first
	descending := []database.Message{
		{Id: 3, SenderId: 2, ReceiverId: 1, Sender: peer, Receiver: me, Content: "third", CreatedAt: base.Add(2 * time.Second)},
		{Id: 2, SenderId: 1, ReceiverId: 2, Sender: me, Receiver: peer, Content: "second", CreatedAt: base.Add(time.Second)},
		{Id: 1, SenderId: 1, ReceiverId: 2, Sender: me, Receiver: peer, Content: "first", CreatedAt: base},
	}

	t.Run("returns messages in chronological order and marks them read", func(t *testing.T) {
		mockRepo := &database.MockDmChatRepository{}
		defer mockRepo.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}

		mockRepo.On("GetAccountByExternalId", peer.ExternalId).Return(peer, nil).Once()
		mockRepo.On("GetConversation", me.Id, peer.Id, 50, (*time.Time)(nil)).Return(descending, nil).Once()
		mockRepo.On("MarkConversationRead", me.Id, peer.Id).Return(nil).Once()

		app := newTestApp(t, mockRepo, su)

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodGet, "/api/messages?user_id="+peer.ExternalId, nil, me.Id)
		app.getConversation(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")

		var msgs []types.Message
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs), "expected valid json response")
		assert.Len(t, msgs, 3, "expected all messages returned")
		assert.Equal(t, "first", msgs[0].Content, "expected oldest message first")
		assert.Equal(t, "third", msgs[2].Content, "expected newest message last")
		for i := 1; i < len(msgs); i++ {
			assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
				"expected non-decreasing creation times")
		}
	})

	t.Run("passes pagination parameters through", func(t *testing.T) {
		mockRepo := &database.MockDmChatRepository{}
		defer mockRepo.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}

		before := base.Add(time.Minute)
		mockRepo.On("GetAccountByExternalId", peer.ExternalId).Return(peer, nil).Once()
		mockRepo.On("GetConversation", me.Id, peer.Id, 2, mock.MatchedBy(func(ts *time.Time) bool {
			return ts != nil && ts.Equal(before)
		})).Return([]database.Message{}, nil).Once()
		mockRepo.On("MarkConversationRead", me.Id, peer.Id).Return(nil).Once()

		app := newTestApp(t, mockRepo, su)

		target := "/api/messages?user_id=" + peer.ExternalId +
			"&limit=2&before=" + before.Format(time.RFC3339Nano)
		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodGet, target, nil, me.Id)
		app.getConversation(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
	})

	t.Run("fails with unknown peer", func(t *testing.T) {
		mockRepo := &database.MockDmChatRepository{}
		defer mockRepo.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}

		mockRepo.On("GetAccountByExternalId", "missing1").Return(database.User{}, database.ErrNotFound).Once()

		app := newTestApp(t, mockRepo, su)

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodGet, "/api/messages?user_id=missing1", nil, me.Id)
		app.getConversation(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code, "expected status code to be 404")
	})

	t.Run("fails with invalid limit", func(t *testing.T) {
		mockRepo := &database.MockDmChatRepository{}
		defer mockRepo.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}

		mockRepo.On("GetAccountByExternalId", peer.ExternalId).Return(peer, nil).Once()

		app := newTestApp(t, mockRepo, su)

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodGet, "/api/messages?user_id="+peer.ExternalId+"&limit=abc", nil, me.Id)
		app.getConversation(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})
}

func TestUnreadCountsHandler(t *testing.T) {
	counts := []database.UnreadCount{
		{SenderId: 2, SenderExternalId: "bOb00001", Count: 3},
	}

	mockRepo := &database.MockDmChatRepository{}
	defer mockRepo.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}

	mockRepo.On("UnreadCounts", 1).Return(counts, nil).Once()

	app := newTestApp(t, mockRepo, su)

	rr := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/api/unread", nil, 1)
	app.unreadCounts(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")

	var got []types.UnreadCount
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got), "expected valid json response")
	assert.Equal(t, []types.UnreadCount{{Sender: "bOb00001", Count: 3}}, got,
		"expected per-sender unread totals")
}

func TestSearchUsersHandler(t *testing.T) {
	results := []database.User{
		{Id: 2, ExternalId: "bOb00001", Username: "bob", EmailAddress: "bob@example.com"},
	}

	tcases := []struct {
		name           string
		query          string
		expectSearch   bool
		expectedStatus int
	}{
		{
			name:           "successful search",
			query:          "?query=bo",
			expectSearch:   true,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "fails with short query",
			query:          "?query=b",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "fails with missing query",
			query:          "",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockDmChatRepository{}
			defer mockRepo.AssertExpectations(t)
			su := &stats.MockStatsUpdater{}

			if tc.expectSearch {
				mockRepo.On("SearchAccounts", 1, "bo", 10).Return(results, nil).Once()
			}

			app := newTestApp(t, mockRepo, su)

			rr := httptest.NewRecorder()
			req := authedRequest(http.MethodGet, "/api/users/search"+tc.query, nil, 1)
			app.searchUsers(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code, "expected status code to match")

			if tc.expectSearch {
				var users []types.User
				assert.NoError(t, json.NewDecoder(rr.Body).Decode(&users), "expected valid json response")
				assert.Len(t, users, 1, "expected one result")
				assert.Equal(t, "bob", users[0].Username, "expected matched user")
			}
		})
	}
}

// TestStreamDelivery exercises the full push path: a user with a live channel
// receives the events triggered by another user's requests.
func TestStreamDelivery(t *testing.T) {
	sender := database.User{Id: 1, ExternalId: "aLiCe001", Username: "alice"}
	receiver := database.User{Id: 2, ExternalId: "bOb00001", Username: "bob"}
	stored := database.Message{
		Id:         7,
		SenderId:   sender.Id,
		ReceiverId: receiver.Id,
		Content:    "hi",
		CreatedAt:  time.Now().UTC(),
	}

	mockRepo := &database.MockDmChatRepository{}
	defer mockRepo.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	mockRepo.On("SetPresence", receiver.Id, true, (*time.Time)(nil)).Return(nil).Once()
	mockRepo.On("SetPresence", receiver.Id, false, mock.AnythingOfType("*time.Time")).Return(nil).Maybe()
	su.On("Incr", stats.ActiveConnections).Once()
	su.On("Decr", stats.ActiveConnections).Maybe()

	mockRepo.On("GetAccountByExternalId", receiver.ExternalId).Return(receiver, nil).Once()
	mockRepo.On("GetAccountById", sender.Id).Return(sender, nil).Once()
	mockRepo.On("CreateMessage", sender.Id, receiver.Id, "hi").Return(stored, nil).Once()
	su.On("Incr", stats.MessagesSent).Once()

	app := newTestApp(t, mockRepo, su)

	srv := httptest.NewServer(app.mux.Handler)
	defer srv.Close()

	token, err := app.createJwtForSession(receiver.Id, time.Hour)
	assert.NoError(t, err, "expected session token")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, err, "expected stream to open")
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	assert.NoError(t, err, "expected to read the connected event")

	var ev server.ServerEvent
	assert.NoError(t, json.Unmarshal(raw, &ev), "expected event to decode")
	assert.Equal(t, server.EventConnected, ev.Type, "expected connected first")

	// sender posts a message while the receiver's channel is live
	body, _ := json.Marshal(SendMessageRequest{ReceiverId: receiver.ExternalId, Content: "hi"})
	rr := httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/api/messages", bytes.NewBuffer(body), sender.Id)
	app.sendMessage(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code, "expected message to be accepted")

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err = conn.ReadMessage()
	assert.NoError(t, err, "expected to read the pushed event")
	assert.NoError(t, json.Unmarshal(raw, &ev), "expected event to decode")
	assert.Equal(t, server.EventNewMessage, ev.Type, "expected new_message event")
	assert.Equal(t, stored.Id, ev.Message.Id, "expected persisted message id in event")
}
