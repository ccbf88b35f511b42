// Package upload validates and stores files attached to chat sessions.
// Upload and message are two separate steps: the returned descriptor is only
// committed to the transcript when the client references it in a message, so
// uploads can be batched or abandoned without touching history.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/logging"
)

var (
	ErrTooLarge       = errors.New("file exceeds size limit")
	ErrDisallowedType = errors.New("file type not allowed")
)

// Documents accepted alongside image/*.
var allowedDocTypes = map[string]struct{}{
	"application/pdf":    {},
	"text/plain":         {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"application/vnd.ms-powerpoint":                                     {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
}

// BlobStore is the external file storage collaborator: save by generated
// name, get a directly usable URL back, delete by the same name.
type BlobStore interface {
	Save(ctx context.Context, name, contentType string, data []byte) (url string, err error)
	Delete(ctx context.Context, name string) error
}

// SessionChecker is the slice of the chat service the intake needs: enough
// to refuse uploads against sessions that do not exist or have expired.
type SessionChecker interface {
	GetSession(ctx context.Context, sessionID string) (*chat.Session, error)
}

type Service struct {
	blobs    BlobStore
	sessions SessionChecker
	maxBytes int64
}

func NewService(blobs BlobStore, sessions SessionChecker, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Service{blobs: blobs, sessions: sessions, maxBytes: maxBytes}
}

// Store validates and persists one file for a session, returning the
// attachment descriptor to embed in a later message. The content type is
// sniffed from the bytes, never trusted from the client.
//
// Validation runs before any storage side effect. The session check runs
// after storage on purpose: the session can be reaped between check and
// save either way, so the orphan-cleanup path has to exist regardless, and
// checking twice would not remove it.
func (s *Service) Store(ctx context.Context, sessionID, filename string, data []byte) (*chat.Attachment, error) {
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), s.maxBytes)
	}

	mtype := mimetype.Detect(data)
	if !typeAllowed(mtype.String()) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowedType, mtype.String())
	}

	id := uuid.New().String()
	name := id + sanitizeExt(mtype.Extension())

	url, err := s.blobs.Save(ctx, name, mtype.String(), data)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		// No session, no blob: deleting here is mandatory, otherwise every
		// upload against a vanished session leaks storage forever.
		if delErr := s.blobs.Delete(ctx, name); delErr != nil {
			logging.Error().Err(delErr).Str("blob", name).Msg("orphaned attachment cleanup failed")
		}
		return nil, err
	}

	return &chat.Attachment{
		ID:       id,
		URL:      url,
		Filename: filename,
		MimeType: mtype.String(),
		ByteSize: int64(len(data)),
	}, nil
}

func typeAllowed(mime string) bool {
	if strings.HasPrefix(mime, "image/") {
		return true
	}
	// mimetype may append parameters ("text/plain; charset=utf-8")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	_, ok := allowedDocTypes[mime]
	return ok
}

func sanitizeExt(ext string) string {
	if ext == "" || !strings.HasPrefix(ext, ".") {
		return ""
	}
	return ext
}
