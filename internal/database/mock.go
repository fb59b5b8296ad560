package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockDmChatRepository struct {
	mock.Mock
}

func (m *MockDmChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockDmChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockDmChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockDmChatRepository) GetAccountByExternalId(externalId string) (User, error) {
	args := m.Called(externalId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockDmChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockDmChatRepository) SearchAccounts(accountId int, query string, limit int) ([]User, error) {
	args := m.Called(accountId, query, limit)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockDmChatRepository) SetPresence(accountId int, online bool, lastSeen *time.Time) error {
	args := m.Called(accountId, online, lastSeen)
	return args.Error(0)
}
func (m *MockDmChatRepository) CreateContactPair(userId, contactId int) error {
	args := m.Called(userId, contactId)
	return args.Error(0)
}
func (m *MockDmChatRepository) DeleteContactPair(userId, contactId int) error {
	args := m.Called(userId, contactId)
	return args.Error(0)
}
func (m *MockDmChatRepository) ListContacts(userId int) ([]Contact, error) {
	args := m.Called(userId)
	return args.Get(0).([]Contact), args.Error(1)
}
func (m *MockDmChatRepository) CreateMessage(senderId, receiverId int, content string) (Message, error) {
	args := m.Called(senderId, receiverId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockDmChatRepository) GetConversation(userId, peerId, limit int, before *time.Time) ([]Message, error) {
	args := m.Called(userId, peerId, limit, before)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockDmChatRepository) MarkConversationRead(userId, peerId int) error {
	args := m.Called(userId, peerId)
	return args.Error(0)
}
func (m *MockDmChatRepository) UnreadCounts(userId int) ([]UnreadCount, error) {
	args := m.Called(userId)
	return args.Get(0).([]UnreadCount), args.Error(1)
}
