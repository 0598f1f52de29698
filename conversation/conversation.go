// Package conversation defines the chat turn and peer-service wire types
// shared by the chat router and the backend capability services.
package conversation

import (
	"errors"
	"fmt"
	"strings"
)

// CustomerIDPrompt is the reply sent when an order question arrives without
// a customer identifier.
const CustomerIDPrompt = "I'd be happy to help with your order information. Could you please provide your Customer ID?"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is a single message in a conversation. Turns are ordered oldest first.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"message"`
}

// SourceType names the capability that produced a reply.
type SourceType string

const (
	SourceProduct SourceType = "product"
	SourceOrder   SourceType = "order"
	SourceGeneral SourceType = "general"
)

// Valid reports whether s is one of the enumerated source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourceProduct, SourceOrder, SourceGeneral:
		return true
	}
	return false
}

// QueryRequest is the body of POST <base>/query on a backend capability.
type QueryRequest struct {
	Messages       []Turn         `json:"messages"`
	ConversationID string         `json:"conversation_id,omitempty"`
	CustomerID     string         `json:"customer_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// QueryResponse is the body a backend capability answers with.
type QueryResponse struct {
	Response           string         `json:"response"`
	RequiresCustomerID bool           `json:"requires_customer_id"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// ErrInvalidRole is returned by ValidateTurns for turns with an unknown role.
var ErrInvalidRole = errors.New("invalid message role")

// ValidateTurns checks that every turn carries a known role.
func ValidateTurns(turns []Turn) error {
	for i, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("%w %q at message %d: must be user or assistant", ErrInvalidRole, t.Role, i)
		}
	}
	return nil
}

// HasUserTurn reports whether at least one turn was authored by the user.
func HasUserTurn(turns []Turn) bool {
	for _, t := range turns {
		if t.Role == RoleUser {
			return true
		}
	}
	return false
}

// UserText joins the text of every user-authored turn with single spaces.
func UserText(turns []Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleUser {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, " ")
}

// LastUserText returns the most recent user-authored text.
func LastUserText(turns []Turn) (string, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Text, true
		}
	}
	return "", false
}

// AllText joins the text of every turn regardless of author.
func AllText(turns []Turn) string {
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}
