package database

import "time"

type DmChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByExternalId(externalId string) (User, error)
	GetAccountByEmail(email string) (User, error)
	SearchAccounts(accountId int, query string, limit int) ([]User, error)
	SetPresence(accountId int, online bool, lastSeen *time.Time) error
	CreateContactPair(userId, contactId int) error
	DeleteContactPair(userId, contactId int) error
	ListContacts(userId int) ([]Contact, error)
	CreateMessage(senderId, receiverId int, content string) (Message, error)
	GetConversation(userId, peerId, limit int, before *time.Time) ([]Message, error)
	MarkConversationRead(userId, peerId int) error
	UnreadCounts(userId int) ([]UnreadCount, error)
}
