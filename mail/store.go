package mail

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists indicates a username that is already registered.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates an unknown user or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound indicates a missing user or message.
	ErrNotFound = errors.New("not found")

	// ErrInvalidMessage indicates a message without sender or recipient.
	ErrInvalidMessage = errors.New("invalid message")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash BLOB NOT NULL,
	full_name TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL REFERENCES users(username),
	recipient TEXT NOT NULL REFERENCES users(username),
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	sent_at INTEGER NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0,
	is_spam INTEGER NOT NULL DEFAULT 0,
	spam_score REAL NOT NULL DEFAULT 0,
	signature BLOB
);

CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, sent_at);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, sent_at);

CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id),
	file_name TEXT NOT NULL
);
`

// Store is the SQLite-backed mailbox.
type Store struct {
	db *sql.DB

	scorer Scorer
	signer *Signer
	cost   int
	mu     sync.RWMutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"path":     path,
	}).Info("Mail store opened")

	return &Store{
		db:     db,
		scorer: NewDefaultNaiveBayesScorer(),
		cost:   bcrypt.DefaultCost,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetScorer replaces the spam scorer. nil disables scoring.
func (s *Store) SetScorer(scorer Scorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scorer = scorer
}

// SetSigner attaches a signer used for every sent message. nil disables
// signing.
func (s *Store) SetSigner(signer *Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
}

// SetHashCost sets the bcrypt cost for new passwords.
func (s *Store) SetHashCost(cost int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cost = cost
}

// CreateUser registers a user.
func (s *Store) CreateUser(username, password, fullName string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalidCredentials)
	}

	s.mu.RLock()
	cost := s.cost
	s.mu.RUnlock()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO users (username, password_hash, full_name, created_at) VALUES (?, ?, ?, ?)`,
		username, hash, fullName, time.Now().UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateUser",
		"username": username,
	}).Info("User created")
	return nil
}

// Authenticate checks a username and password.
func (s *Store) Authenticate(username, password string) error {
	var hash []byte
	err := s.db.QueryRow(`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Authenticate",
			"username": username,
		}).Warn("Authentication failed")
		return ErrInvalidCredentials
	}
	return nil
}

// Users lists accounts ordered by username.
func (s *Store) Users() ([]User, error) {
	rows, err := s.db.Query(`SELECT username, full_name, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var created int64
		if err := rows.Scan(&u.Username, &u.FullName, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = time.UnixMilli(created)
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserExists reports whether username is registered.
func (s *Store) UserExists(username string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM users WHERE username = ?`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Send scores, optionally signs and stores msg. On success msg.ID, SentAt,
// Spam, SpamScore and Signature are filled in.
func (s *Store) Send(msg *Message) error {
	if msg.Sender == "" || msg.Recipient == "" {
		return fmt.Errorf("%w: sender and recipient are required", ErrInvalidMessage)
	}
	for _, name := range []string{msg.Sender, msg.Recipient} {
		ok, err := s.UserExists(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %s", ErrNotFound, name)
		}
	}

	s.mu.RLock()
	scorer, signer := s.scorer, s.signer
	s.mu.RUnlock()

	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if scorer != nil {
		msg.SpamScore = scorer.Score(msg.Subject, msg.Body)
		msg.Spam = scorer.IsSpam(msg.Subject, msg.Body)
	}
	if signer != nil {
		msg.Signature = signer.Sign(msg.SigningPayload())
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO messages (sender, recipient, subject, body, sent_at, is_spam, spam_score, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.Sender, msg.Recipient, msg.Subject, msg.Body, msg.SentAt.UnixMilli(),
		msg.Spam, msg.SpamScore, msg.Signature,
	)
	if err != nil {
		return fmt.Errorf("storing message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, name := range msg.Attachments {
		if _, err := tx.Exec(`INSERT INTO attachments (message_id, file_name) VALUES (?, ?)`, id, name); err != nil {
			return fmt.Errorf("storing attachment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	msg.ID = id

	logrus.WithFields(logrus.Fields{
		"function":  "Send",
		"id":        id,
		"sender":    msg.Sender,
		"recipient": msg.Recipient,
		"spam":      msg.Spam,
		"signed":    msg.Signature != nil,
	}).Info("Message stored")
	return nil
}

// Inbox returns messages addressed to username, newest first.
func (s *Store) Inbox(username string) ([]Message, error) {
	return s.queryMessages(`WHERE recipient = ?`, username)
}

// Sent returns messages sent by username, newest first.
func (s *Store) Sent(username string) ([]Message, error) {
	return s.queryMessages(`WHERE sender = ?`, username)
}

// Get returns one message.
func (s *Store) Get(id int64) (*Message, error) {
	msgs, err := s.queryMessages(`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: message %d", ErrNotFound, id)
	}
	return &msgs[0], nil
}

// MarkRead flags a message as read.
func (s *Store) MarkRead(id int64) error {
	res, err := s.db.Exec(`UPDATE messages SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: message %d", ErrNotFound, id)
	}
	return nil
}

// UnreadCount returns the number of unread messages for username.
func (s *Store) UnreadCount(username string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE recipient = ? AND is_read = 0`, username).Scan(&n)
	return n, err
}

// VerifyMessage checks msg's signature against the attached signer.
// Unsigned messages and stores without a signer report false.
func (s *Store) VerifyMessage(msg *Message) bool {
	s.mu.RLock()
	signer := s.signer
	s.mu.RUnlock()

	if signer == nil || len(msg.Signature) == 0 {
		return false
	}
	return signer.Verify(msg.SigningPayload(), msg.Signature)
}

func (s *Store) queryMessages(where string, arg any) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, recipient, subject, body, sent_at, is_read, is_spam, spam_score, signature
		 FROM messages `+where+` ORDER BY sent_at DESC, id DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	var msgs []Message
	for rows.Next() {
		var m Message
		var sent int64
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Subject, &m.Body, &sent,
			&m.Read, &m.Spam, &m.SpamScore, &m.Signature); err != nil {
			rows.Close()
			return nil, err
		}
		m.SentAt = time.UnixMilli(sent)
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range msgs {
		attachments, err := s.attachments(msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].Attachments = attachments
	}
	return msgs, nil
}

func (s *Store) attachments(id int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT file_name FROM attachments WHERE message_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
