package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dmchat/internal/database"
	"dmchat/internal/server"
	"dmchat/internal/stats"
	"dmchat/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type AddContactRequest struct {
	ContactId string `json:"contact_id"`
}

type SendMessageRequest struct {
	ReceiverId string `json:"receiver_id"`
	Content    string `json:"content"`
}

func (s *DmChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *DmChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *DmChatApp) searchUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if len(query) < 2 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUsers, err := s.db.SearchAccounts(userId, query, 10)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	users := make([]types.User, 0, len(dbUsers))
	for _, u := range dbUsers {
		users = append(users, userProfile(u))
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *DmChatApp) addContact(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req AddContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	peer, err := s.db.GetAccountByExternalId(req.ContactId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if peer.Id == userId {
		// a user cannot add themselves
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.CreateContactPair(userId, peer.Id); err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrDuplicateContact) {
			errResp = NewConflictError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.stats.Incr(stats.ContactsAdded)

	if me, err := s.db.GetAccountById(userId); err != nil {
		s.log.Println("load account for contact notification:", err)
	} else {
		profile := userProfile(me)
		s.dispatcher.ContactAdded(peer.Id, &profile)
	}

	s.writeJson(w, http.StatusCreated, userProfile(peer))
}

func (s *DmChatApp) listContacts(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	contacts, err := s.db.ListContacts(userId)
	if err != nil {
		s.log.Println("list contacts:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	users := make([]types.User, 0, len(contacts))
	for _, c := range contacts {
		users = append(users, userProfile(c.Peer))
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *DmChatApp) removeContact(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	peer, err := s.db.GetAccountByExternalId(externalId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// removal is idempotent, an unknown peer is a no-op
			w.WriteHeader(http.StatusNoContent)
			return
		}
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteContactPair(userId, peer.Id); err != nil {
		s.log.Println("delete contact:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *DmChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if strings.TrimSpace(req.Content) == "" || req.ReceiverId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	receiver, err := s.db.GetAccountByExternalId(req.ReceiverId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			// unknown receiver is a caller error, not a missing resource
			errResp = NewBadRequestError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sender, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMsg, err := s.db.CreateMessage(sender.Id, receiver.Id, req.Content)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.stats.Incr(stats.MessagesSent)

	msg := types.Message{
		Id:        dbMsg.Id,
		Sender:    userProfile(sender),
		Receiver:  userProfile(receiver),
		Content:   dbMsg.Content,
		Read:      dbMsg.Read,
		CreatedAt: dbMsg.CreatedAt,
	}

	s.dispatcher.NewMessage(receiver.Id, &msg)

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *DmChatApp) getConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	peerExternalId := r.URL.Query().Get("user_id")
	if peerExternalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	peer, err := s.db.GetAccountByExternalId(peerExternalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	var before *time.Time
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		t, err := time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		before = &t
	}

	dbMsgs, err := s.db.GetConversation(userId, peer.Id, limit, before)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// fetching a conversation reads it: every unread message from the
	// counterpart transitions to read in bulk
	if err := s.db.MarkConversationRead(userId, peer.Id); err != nil {
		s.log.Println("mark conversation read:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// rows come back newest first for pagination, display order is
	// chronological
	slices.Reverse(dbMsgs)

	messages := make([]types.Message, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		messages = append(messages, types.Message{
			Id: m.Id,
			Sender: types.User{
				Id:       m.Sender.ExternalId,
				Username: m.Sender.Username,
			},
			Receiver: types.User{
				Id:       m.Receiver.ExternalId,
				Username: m.Receiver.Username,
			},
			Content:   m.Content,
			Read:      m.Read,
			CreatedAt: m.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *DmChatApp) unreadCounts(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbCounts, err := s.db.UnreadCounts(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	counts := make([]types.UnreadCount, 0, len(dbCounts))
	for _, c := range dbCounts {
		counts = append(counts, types.UnreadCount{
			Sender: c.SenderExternalId,
			Count:  c.Count,
		})
	}

	s.writeJson(w, http.StatusOK, counts)
}

func (s *DmChatApp) serveStream(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(userId, conn, s.registry, s.log)
	s.registry.Register(client)
	client.Run()
}
