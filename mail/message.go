package mail

import (
	"strings"
	"time"
)

// Message is one stored mail.
type Message struct {
	ID          int64     `json:"id"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
	Read        bool      `json:"read"`
	Spam        bool      `json:"spam"`
	SpamScore   float64   `json:"spam_score"`
	Signature   []byte    `json:"signature,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

// SigningPayload returns the bytes covered by the message signature.
func (m *Message) SigningPayload() []byte {
	var b strings.Builder
	b.WriteString(m.Sender)
	b.WriteByte('\n')
	b.WriteString(m.Recipient)
	b.WriteByte('\n')
	b.WriteString(m.Subject)
	b.WriteByte('\n')
	b.WriteString(m.Body)
	return []byte(b.String())
}

// User is an account without its password hash.
type User struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}
