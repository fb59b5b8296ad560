package database

import "time"

type User struct {
	Id           int
	ExternalId   string
	Username     string
	EmailAddress string
	PasswordHash string
	Online       bool
	LastSeen     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Contact struct {
	Id        int
	UserId    int
	ContactId int
	Peer      User
	CreatedAt time.Time
}

type Message struct {
	Id         int
	SenderId   int
	ReceiverId int
	Sender     User
	Receiver   User
	Content    string
	Read       bool
	CreatedAt  time.Time
}

type UnreadCount struct {
	SenderId         int
	SenderExternalId string
	Count            int
}

type CreateAccountParams struct {
	ExternalId   string
	Username     string
	EmailAddress string
	PasswordHash string
}
