package chat

import "time"

type SessionStatus string

const (
	StatusOpen     SessionStatus = "open"
	StatusAssigned SessionStatus = "assigned"
)

type Sender string

const (
	SenderVisitor Sender = "visitor"
	SenderAdmin   Sender = "admin"
)

// Session is one visitor's support conversation. Expired rows are invisible
// to every lookup and eventually removed by the reaper.
type Session struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	VisitorID string `gorm:"type:varchar(36);index;not null" json:"visitor_id"`

	CustomerEmail string `gorm:"type:varchar(255)" json:"customer_email,omitempty"`
	CustomerPhone string `gorm:"type:varchar(32)" json:"customer_phone,omitempty"`
	AuthProvider  string `gorm:"type:varchar(32)" json:"auth_provider,omitempty"`

	Status          SessionStatus `gorm:"type:varchar(16);not null" json:"status"`
	AssignedAgentID *string       `gorm:"type:varchar(26);index" json:"assigned_agent_id"`

	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"-"`
}

func (Session) TableName() string { return "chat_sessions" }

// Attachment is a stored file referenced by a message. All five fields must
// be populated for the owning message to be accepted.
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	ByteSize int64  `json:"byte_size"`
}

// Message belongs to exactly one session. MessageID is client-assigned for
// optimistic rendering; Seq gives authoritative insertion order.
type Message struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"id"`
	SessionID string `gorm:"type:varchar(26);index;not null" json:"session_id"`

	Sender Sender `gorm:"type:varchar(16);not null" json:"sender"`
	Text   string `gorm:"type:text" json:"text"`

	Attachments []Attachment `gorm:"serializer:json;type:text" json:"attachments,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Identity carries the customer fields bound after the visitor authenticates.
// Opaque to the chat core; empty fields are left untouched on merge.
type Identity struct {
	Email        string `json:"customer_email"`
	Phone        string `json:"customer_phone"`
	AuthProvider string `json:"auth_provider"`
}

// SessionSummary is the condensed shape broadcast to the agents group so the
// session list can refresh without a full reload.
type SessionSummary struct {
	SessionID       string        `json:"session_id"`
	VisitorID       string        `json:"visitor_id"`
	Status          SessionStatus `json:"status"`
	AssignedAgentID *string       `json:"assigned_agent_id"`
	CustomerEmail   string        `json:"customer_email,omitempty"`
	Preview         string        `json:"preview,omitempty"`
	LastMessageAt   *time.Time    `json:"last_message_at"`
	CreatedAt       time.Time     `json:"created_at"`
}

func summarize(s *Session, preview string) SessionSummary {
	return SessionSummary{
		SessionID:       s.SessionID,
		VisitorID:       s.VisitorID,
		Status:          s.Status,
		AssignedAgentID: s.AssignedAgentID,
		CustomerEmail:   s.CustomerEmail,
		Preview:         preview,
		LastMessageAt:   s.LastMessageAt,
		CreatedAt:       s.CreatedAt,
	}
}
