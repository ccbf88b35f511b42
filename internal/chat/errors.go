package chat

import "errors"

var (
	// ErrNotFound covers sessions that never existed and sessions already
	// past their TTL; callers cannot tell the difference by design.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned when a reassignment names a different agent
	// than the current one and force was not set.
	ErrConflict = errors.New("session already assigned")

	// ErrNoAgentAvailable is returned by auto-assignment when no agent is
	// currently present.
	ErrNoAgentAvailable = errors.New("no admin available")

	// ErrInvalidMessage rejects messages with neither text nor attachments,
	// or with an incomplete attachment descriptor.
	ErrInvalidMessage = errors.New("invalid message")
)
