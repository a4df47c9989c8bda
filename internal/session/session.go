package session

import (
	"context"
	"fmt"
	"time"
)

// Store drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTitle is listed for sessions that exist but have not been titled yet
const DefaultTitle = "New Chat"

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is one entry of the session listing
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Store holds persisted conversations keyed by session ID.
//
// Append must be atomic with respect to other appends on the same session:
// of two concurrent appends to an empty session exactly one reports first.
type Store interface {
	// Get returns the session's messages in order, or an empty slice if unknown.
	Get(ctx context.Context, sessionID string) ([]Message, error)

	// Append stores one exchange and reports whether it was the session's first.
	Append(ctx context.Context, sessionID string, user, assistant Message) (bool, error)

	// SetTitle sets the title of an existing session. Unknown sessions are ignored.
	SetTitle(ctx context.Context, sessionID, title string) error

	// ListTitled lists all sessions, newest first.
	ListTitled(ctx context.Context) ([]Summary, error)

	// Delete removes a session's messages and title. Unknown sessions are ignored.
	Delete(ctx context.Context, sessionID string) error

	Close() error
}

// NewMessage creates a message stamped with the current time
func NewMessage(role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Open creates the store for the given driver
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		store, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
}
