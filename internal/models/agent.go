package models

import "time"

// Agent is a support staff account able to log in and work sessions.
type Agent struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	AgentID      string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"agent_id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name         string    `gorm:"type:varchar(64);not null" json:"name"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	AvatarURL    string    `gorm:"type:varchar(512)" json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

func (Agent) TableName() string { return "agents" }
