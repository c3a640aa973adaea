// Package session holds per-conversation state: the ordered turn history
// a single user accumulates across queries.
//
// Thread Safety: State is not thread-safe. A state belongs to exactly one
// conversation; callers sharing states across goroutines must synchronize,
// as the HTTP session registry does.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role    string
	Text    string
	Ordinal int // Position in the conversation, starting at 0
}

// State is the conversation history for one session.
//
// The zero value is NOT useful - use New() to create instances.
type State struct {
	id        string
	turns     []Turn
	createdAt time.Time
}

// New creates an empty conversation state with a fresh session ID.
func New() *State {
	return &State{
		id:        uuid.NewString(),
		createdAt: time.Now(),
	}
}

// ID returns the session identifier.
func (s *State) ID() string {
	return s.id
}

// CreatedAt returns when the session started.
func (s *State) CreatedAt() time.Time {
	return s.createdAt
}

// Append adds a turn to the history, assigning the next ordinal.
func (s *State) Append(role, text string) {
	s.turns = append(s.turns, Turn{
		Role:    role,
		Text:    text,
		Ordinal: len(s.turns),
	})
}

// Recent returns a copy of the last n turns in conversation order.
// n <= 0 returns no turns; n beyond the history length returns everything.
func (s *State) Recent(n int) []Turn {
	if n <= 0 {
		return nil
	}
	start := 0
	if n < len(s.turns) {
		start = len(s.turns) - n
	}
	out := make([]Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

// Len returns the number of turns.
func (s *State) Len() int {
	return len(s.turns)
}

// Reset clears the history but keeps the session ID.
func (s *State) Reset() {
	s.turns = nil
}
