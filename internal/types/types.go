package types

import (
	"time"
)

type User struct {
	Id           string     `json:"id"`
	Username     string     `json:"username"`
	EmailAddress string     `json:"email_address,omitempty"`
	Online       bool       `json:"online"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

type Message struct {
	Id        int       `json:"id"`
	Sender    User      `json:"sender"`
	Receiver  User      `json:"receiver"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type UnreadCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}
