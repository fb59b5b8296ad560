package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

func (db *PgDmChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (external_id, username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, external_id, username, email, created_at, updated_at",
		params.ExternalId,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.ExternalId,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

const accountColumns = "id, external_id, username, email, password_hash, online, last_seen, created_at, updated_at"

func scanAccount(row *sql.Row) (User, error) {
	var u User
	var lastSeen sql.NullTime
	err := row.Scan(
		&u.Id,
		&u.ExternalId,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.Online,
		&lastSeen,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}

	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}

	return u, err
}

func (db *PgDmChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		accountId,
	)

	return scanAccount(row)
}

func (db *PgDmChatRepository) GetAccountByExternalId(externalId string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	return scanAccount(row)
}

func (db *PgDmChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	return scanAccount(row)
}

func (db *PgDmChatRepository) SearchAccounts(accountId int, query string, limit int) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT "+accountColumns+" FROM accounts "+
			"WHERE id != $1 AND (username ILIKE $2 OR email ILIKE $2) ORDER BY username LIMIT $3",
		accountId,
		"%"+query+"%",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users = make([]User, 0)
	for rows.Next() {
		var u User
		var lastSeen sql.NullTime
		if err = rows.Scan(
			&u.Id,
			&u.ExternalId,
			&u.Username,
			&u.EmailAddress,
			&u.PasswordHash,
			&u.Online,
			&lastSeen,
			&u.CreatedAt,
			&u.UpdatedAt,
		); err != nil {
			break
		}

		if lastSeen.Valid {
			u.LastSeen = &lastSeen.Time
		}
		users = append(users, u)
	}

	return users, err
}

func (db *PgDmChatRepository) SetPresence(accountId int, online bool, lastSeen *time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET online = $2, last_seen = COALESCE($3, last_seen), updated_at = $4 WHERE id = $1",
		accountId,
		online,
		lastSeen,
		time.Now().UTC(),
	)

	return err
}

// CreateContactPair inserts both directions of a contact relationship in a
// single transaction so the pair either exists fully or not at all.
func (db *PgDmChatRepository) CreateContactPair(userId, contactId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, pair := range [][2]int{{userId, contactId}, {contactId, userId}} {
		_, err = tx.Exec(
			"INSERT INTO contacts (account_id, contact_id, created_at) VALUES ($1, $2, $3)",
			pair[0],
			pair[1],
			now,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				err = ErrDuplicateContact
			}
			return err
		}
	}

	return tx.Commit()
}

// DeleteContactPair removes both directions of the relationship. Deleting a
// relationship which does not exist is not an error.
func (db *PgDmChatRepository) DeleteContactPair(userId, contactId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM contacts WHERE (account_id = $1 AND contact_id = $2) OR (account_id = $2 AND contact_id = $1)",
		userId,
		contactId,
	)

	return err
}

func (db *PgDmChatRepository) ListContacts(userId int) ([]Contact, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.account_id, c.contact_id, c.created_at, "+
			"a.external_id, a.username, a.email, a.online, a.last_seen "+
			"FROM contacts c JOIN accounts a ON c.contact_id = a.id "+
			"WHERE c.account_id = $1 ORDER BY c.created_at DESC, c.id DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts = make([]Contact, 0)
	for rows.Next() {
		var c Contact
		var lastSeen sql.NullTime
		if err = rows.Scan(
			&c.Id,
			&c.UserId,
			&c.ContactId,
			&c.CreatedAt,
			&c.Peer.ExternalId,
			&c.Peer.Username,
			&c.Peer.EmailAddress,
			&c.Peer.Online,
			&lastSeen,
		); err != nil {
			break
		}

		c.Peer.Id = c.ContactId
		if lastSeen.Valid {
			c.Peer.LastSeen = &lastSeen.Time
		}
		contacts = append(contacts, c)
	}

	return contacts, err
}

// CreateMessage persists a message with a server-assigned creation time.
func (db *PgDmChatRepository) CreateMessage(senderId, receiverId int, content string) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (sender_id, receiver_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, sender_id, receiver_id, content, read, created_at",
		senderId,
		receiverId,
		content,
		time.Now().UTC(),
	)

	var msg Message
	err := res.Scan(
		&msg.Id,
		&msg.SenderId,
		&msg.ReceiverId,
		&msg.Content,
		&msg.Read,
		&msg.CreatedAt,
	)

	return msg, err
}

// GetConversation returns up to limit messages exchanged between the two
// users, newest first. Equal timestamps fall back to insertion order so
// pagination stays deterministic.
func (db *PgDmChatRepository) GetConversation(userId, peerId, limit int, before *time.Time) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT m.id, m.sender_id, m.receiver_id, m.content, m.read, m.created_at, "+
			"s.external_id, s.username, r.external_id, r.username "+
			"FROM messages m "+
			"JOIN accounts s ON m.sender_id = s.id "+
			"JOIN accounts r ON m.receiver_id = r.id "+
			"WHERE ((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1)) "+
			"AND ($3::timestamptz IS NULL OR m.created_at < $3) "+
			"ORDER BY m.created_at DESC, m.id DESC LIMIT $4",
		userId,
		peerId,
		before,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(
			&msg.Id,
			&msg.SenderId,
			&msg.ReceiverId,
			&msg.Content,
			&msg.Read,
			&msg.CreatedAt,
			&msg.Sender.ExternalId,
			&msg.Sender.Username,
			&msg.Receiver.ExternalId,
			&msg.Receiver.Username,
		); err != nil {
			break
		}

		msg.Sender.Id = msg.SenderId
		msg.Receiver.Id = msg.ReceiverId
		messages = append(messages, msg)
	}

	return messages, err
}

// MarkConversationRead flags every unread message sent by peerId to userId as
// read in one statement.
func (db *PgDmChatRepository) MarkConversationRead(userId, peerId int) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET read = TRUE WHERE sender_id = $2 AND receiver_id = $1 AND NOT read",
		userId,
		peerId,
	)

	return err
}

func (db *PgDmChatRepository) UnreadCounts(userId int) ([]UnreadCount, error) {
	rows, err := db.conn.Query(
		"SELECT m.sender_id, a.external_id, COUNT(*) FROM messages m "+
			"JOIN accounts a ON m.sender_id = a.id "+
			"WHERE m.receiver_id = $1 AND NOT m.read GROUP BY m.sender_id, a.external_id",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts = make([]UnreadCount, 0)
	for rows.Next() {
		var c UnreadCount
		if err = rows.Scan(&c.SenderId, &c.SenderExternalId, &c.Count); err != nil {
			break
		}

		counts = append(counts, c)
	}

	return counts, err
}
