package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Repo is the durable session store. Every lookup filters out rows past
// their TTL so an expired session behaves exactly like a missing one even
// before the reaper gets to it.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND expires_at > ?", sessionID, time.Now().UTC()).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindActiveByVisitorID returns the newest unexpired session for a visitor,
// or ErrNotFound. Used by idempotent create-or-resume.
func (r *Repo) FindActiveByVisitorID(ctx context.Context, visitorID string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("visitor_id = ? AND expires_at > ?", visitorID, time.Now().UTC()).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListSessions returns unexpired sessions, most recently active first.
// Sessions with no messages yet sort by creation time.
func (r *Repo) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("expires_at > ?", time.Now().UTC()).
		Order("COALESCE(last_message_at, created_at) DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// AppendMessage atomically inserts the message, bumps last_message_at and
// slides expires_at. A duplicate message ID (socket redelivery, optimistic
// client retry) is a no-op returning the current session state.
// Never creates a session: an unknown or expired session is ErrNotFound.
func (r *Repo) AppendMessage(ctx context.Context, msg *Message, retention time.Duration) (*Session, error) {
	var out Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		if err := tx.Where("session_id = ? AND expires_at > ?", msg.SessionID, time.Now().UTC()).
			First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var dup int64
		if err := tx.Model(&Message{}).
			Where("message_id = ?", msg.MessageID).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			out = s
			return nil
		}

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		s.LastMessageAt = &msg.CreatedAt
		s.ExpiresAt = msg.CreatedAt.Add(retention)
		if err := tx.Model(&Session{}).
			Where("session_id = ?", s.SessionID).
			Updates(map[string]any{
				"last_message_at": s.LastMessageAt,
				"expires_at":      s.ExpiresAt,
			}).Error; err != nil {
			return err
		}

		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCustomerIdentity merges the non-empty identity fields; messages and
// assignment state are untouched.
func (r *Repo) UpdateCustomerIdentity(ctx context.Context, sessionID string, ident Identity) (*Session, error) {
	var out Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		if err := tx.Where("session_id = ? AND expires_at > ?", sessionID, time.Now().UTC()).
			First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updates := map[string]any{}
		if ident.Email != "" {
			s.CustomerEmail = ident.Email
			updates["customer_email"] = ident.Email
		}
		if ident.Phone != "" {
			s.CustomerPhone = ident.Phone
			updates["customer_phone"] = ident.Phone
		}
		if ident.AuthProvider != "" {
			s.AuthProvider = ident.AuthProvider
			updates["auth_provider"] = ident.AuthProvider
		}
		if len(updates) > 0 {
			if err := tx.Model(&Session{}).
				Where("session_id = ?", sessionID).
				Updates(updates).Error; err != nil {
				return err
			}
		}

		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Assign applies the assignment state machine:
//
//	open     -> assigned            always allowed
//	assigned -> same agent          no-op success
//	assigned -> different agent     requires force, otherwise ErrConflict
//
// Every successful transition slides expires_at as a keep-alive touch.
func (r *Repo) Assign(ctx context.Context, sessionID, agentID string, force bool, retention time.Duration) (*Session, error) {
	var out Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		if err := tx.Where("session_id = ? AND expires_at > ?", sessionID, time.Now().UTC()).
			First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if s.Status == StatusAssigned && s.AssignedAgentID != nil {
			if *s.AssignedAgentID == agentID {
				out = s
				return nil
			}
			if !force {
				return ErrConflict
			}
		}

		now := time.Now().UTC()
		s.Status = StatusAssigned
		s.AssignedAgentID = &agentID
		s.ExpiresAt = now.Add(retention)
		if err := tx.Model(&Session{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"status":            StatusAssigned,
				"assigned_agent_id": agentID,
				"expires_at":        s.ExpiresAt,
			}).Error; err != nil {
			return err
		}

		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the session's full transcript in insertion order.
func (r *Repo) History(ctx context.Context, sessionID string) ([]Message, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// LastMessageText returns the text of the newest message, "" when none.
// Used for list previews in agent-facing broadcasts.
func (r *Repo) LastMessageText(ctx context.Context, sessionID string) (string, error) {
	var msg Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return msg.Text, nil
}

// DeleteExpired removes sessions past their TTL together with their
// transcripts. Returns the number of sessions reaped.
func (r *Repo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var reaped int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&Session{}).
			Where("expires_at <= ?", now).
			Pluck("session_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("session_id IN ?", ids).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		reaped = res.RowsAffected
		return nil
	})
	return reaped, err
}
