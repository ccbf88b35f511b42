package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/staylight/livechat/internal/common"
	"github.com/staylight/livechat/internal/logging"
)

// Topic names for realtime fan-out. The session topic carries message and
// typing traffic for one conversation; the agents topic carries session-list
// updates for every connected admin.
const TopicAgents = "agents"

func SessionTopic(sessionID string) string { return "session:" + sessionID }

// Event names published by the lifecycle controller. The gateway adds its
// own relay-only events (typing, viewers, error) on top of these.
const (
	EventMessage        = "message"
	EventSessionUpdated = "session_updated"
)

// Publisher abstracts room broadcasting so the controller does not depend on
// the transport. The websocket hub implements it; tests use recorders.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// AgentLoad is a presence snapshot row used for auto-assignment.
type AgentLoad struct {
	AgentID  string
	Name     string
	Sessions int
}

// PresenceReader exposes the presence registry to the controller read-only.
// Only the gateway's connection lifecycle is allowed to mutate presence.
type PresenceReader interface {
	AgentsWithLoad() []AgentLoad
}

// ResumeIndex maps visitor IDs to their active session with a sliding TTL,
// so create-or-resume normally avoids a table scan. The durable store stays
// authoritative; a stale or missing index entry only costs a DB query.
type ResumeIndex interface {
	Get(ctx context.Context, visitorID string) (string, error)
	Set(ctx context.Context, visitorID, sessionID string) error
}

// Notification kinds consumed by the worker process.
const (
	NotifySessionAssigned = "session_assigned"
	NotifyVisitorWaiting  = "visitor_waiting"
)

type Notification struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id,omitempty"`
}

// NotificationPublisher enqueues notifications for async delivery.
// Publishing is best-effort; failures never affect chat persistence.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, n Notification) error
}

// Service is the session lifecycle controller: creation/resume, assignment,
// identity binding and the persistence half of the message path.
type Service struct {
	repo      *Repo
	retention time.Duration

	pub      Publisher
	presence PresenceReader
	resume   ResumeIndex
	notify   NotificationPublisher
}

type Option func(*Service)

func WithPublisher(p Publisher) Option            { return func(s *Service) { s.pub = p } }
func WithPresence(p PresenceReader) Option        { return func(s *Service) { s.presence = p } }
func WithResumeIndex(r ResumeIndex) Option        { return func(s *Service) { s.resume = r } }
func WithNotifier(n NotificationPublisher) Option { return func(s *Service) { s.notify = n } }

func NewService(repo *Repo, retention time.Duration, opts ...Option) *Service {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	s := &Service{repo: repo, retention: retention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrResume returns the visitor's active session, creating one only if
// none exists. Calling twice with the same visitor ID inside the retention
// window always yields the same session.
func (s *Service) CreateOrResume(ctx context.Context, visitorID string, ident *Identity) (*Session, bool, error) {
	if visitorID != "" {
		if s.resume != nil {
			if sid, err := s.resume.Get(ctx, visitorID); err == nil && sid != "" {
				if sess, err := s.repo.GetSession(ctx, sid); err == nil {
					return sess, true, nil
				}
				// index pointed at a reaped session; fall through to the DB
			}
		}
		if sess, err := s.repo.FindActiveByVisitorID(ctx, visitorID); err == nil {
			s.refreshResume(ctx, visitorID, sess.SessionID)
			return sess, true, nil
		} else if err != ErrNotFound {
			return nil, false, err
		}
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	if visitorID == "" {
		visitorID = uuid.New().String()
	}

	now := time.Now().UTC()
	sess := &Session{
		SessionID: sid,
		VisitorID: visitorID,
		Status:    StatusOpen,
		ExpiresAt: now.Add(s.retention),
		CreatedAt: now,
	}
	if ident != nil {
		sess.CustomerEmail = ident.Email
		sess.CustomerPhone = ident.Phone
		sess.AuthProvider = ident.AuthProvider
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, false, err
	}

	s.refreshResume(ctx, visitorID, sid)
	s.publishSummary(ctx, sess, "")
	return sess, false, nil
}

func (s *Service) refreshResume(ctx context.Context, visitorID, sessionID string) {
	if s.resume == nil {
		return
	}
	if err := s.resume.Set(ctx, visitorID, sessionID); err != nil {
		logging.Warn().Err(err).Str("visitor_id", visitorID).Msg("resume index update failed")
	}
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.repo.GetSession(ctx, sessionID)
}

func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	return s.repo.ListSessions(ctx)
}

func (s *Service) History(ctx context.Context, sessionID string) ([]Message, error) {
	return s.repo.History(ctx, sessionID)
}

// MessageInput is a message as submitted by either transport, before the
// server assigns its timestamp.
type MessageInput struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Sender      Sender       `json:"sender"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

func validateMessage(in MessageInput) error {
	if in.Sender != SenderVisitor && in.Sender != SenderAdmin {
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, in.Sender)
	}
	if in.Text == "" && len(in.Attachments) == 0 {
		return fmt.Errorf("%w: requires text or at least one attachment", ErrInvalidMessage)
	}
	for _, a := range in.Attachments {
		if a.ID == "" || a.URL == "" || a.Filename == "" || a.MimeType == "" || a.ByteSize <= 0 {
			return fmt.Errorf("%w: incomplete attachment descriptor", ErrInvalidMessage)
		}
	}
	return nil
}

// AppendMessage validates, persists and fans out a message. Identical
// semantics for the socket event and the plain request path: the persisted
// message goes to the session room, a summary goes to the agents group.
func (s *Service) AppendMessage(ctx context.Context, in MessageInput) (*Message, *Session, error) {
	if err := validateMessage(in); err != nil {
		return nil, nil, err
	}

	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	msg := &Message{
		MessageID:   in.ID,
		SessionID:   in.SessionID,
		Sender:      in.Sender,
		Text:        in.Text,
		Attachments: in.Attachments,
		CreatedAt:   time.Now().UTC(),
	}

	sess, err := s.repo.AppendMessage(ctx, msg, s.retention)
	if err != nil {
		return nil, nil, err
	}

	if s.pub != nil {
		s.pub.Publish(SessionTopic(sess.SessionID), EventMessage, msg)
	}
	s.publishSummary(ctx, sess, msg.Text)

	// A visitor writing into an unassigned room with nobody present is the
	// one moment support staff must be paged out-of-band.
	if in.Sender == SenderVisitor && sess.Status == StatusOpen && s.presentAgentCount() == 0 {
		s.enqueueNotification(ctx, Notification{
			Kind:      NotifyVisitorWaiting,
			SessionID: sess.SessionID,
		})
	}

	return msg, sess, nil
}

// Assign runs the assignment state machine. An empty agentID asks for
// auto-pick: the present agent viewing the fewest sessions, ties broken by
// ascending agent ID.
func (s *Service) Assign(ctx context.Context, sessionID, agentID string, force bool) (*Session, error) {
	if agentID == "" {
		picked, err := s.pickLeastLoaded()
		if err != nil {
			return nil, err
		}
		agentID = picked
	}

	sess, err := s.repo.Assign(ctx, sessionID, agentID, force, s.retention)
	if err != nil {
		return nil, err
	}

	s.publishSummary(ctx, sess, "")
	s.enqueueNotification(ctx, Notification{
		Kind:      NotifySessionAssigned,
		SessionID: sess.SessionID,
		AgentID:   agentID,
	})
	return sess, nil
}

func (s *Service) pickLeastLoaded() (string, error) {
	if s.presence == nil {
		return "", ErrNoAgentAvailable
	}
	loads := s.presence.AgentsWithLoad()
	if len(loads) == 0 {
		return "", ErrNoAgentAvailable
	}
	sort.Slice(loads, func(i, j int) bool {
		if loads[i].Sessions != loads[j].Sessions {
			return loads[i].Sessions < loads[j].Sessions
		}
		return loads[i].AgentID < loads[j].AgentID
	})
	return loads[0].AgentID, nil
}

func (s *Service) presentAgentCount() int {
	if s.presence == nil {
		return 0
	}
	return len(s.presence.AgentsWithLoad())
}

// BindIdentity merges customer identity onto the session. Safe to call
// retroactively at any point in the conversation.
func (s *Service) BindIdentity(ctx context.Context, sessionID string, ident Identity) (*Session, error) {
	sess, err := s.repo.UpdateCustomerIdentity(ctx, sessionID, ident)
	if err != nil {
		return nil, err
	}
	s.publishSummary(ctx, sess, "")
	return sess, nil
}

func (s *Service) publishSummary(ctx context.Context, sess *Session, preview string) {
	if s.pub == nil {
		return
	}
	if preview == "" {
		if text, err := s.repo.LastMessageText(ctx, sess.SessionID); err == nil {
			preview = text
		}
	}
	s.pub.Publish(TopicAgents, EventSessionUpdated, summarize(sess, preview))
}

func (s *Service) enqueueNotification(ctx context.Context, n Notification) {
	if s.notify == nil {
		return
	}
	if err := s.notify.PublishNotification(ctx, n); err != nil {
		logging.Warn().Err(err).
			Str("kind", n.Kind).
			Str("session_id", n.SessionID).
			Msg("notification publish failed")
	}
}
