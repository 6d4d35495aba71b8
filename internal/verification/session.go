// Package verification owns the life cycle of a single membership challenge:
// NoSession -> Pending -> {Success, Failure, Expired}, all terminal. Session
// state lives in the shared store under TTL-governed keys, and every
// transition commits atomically, so a partially created or half-resolved
// session is never observable.
package verification

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextType says why the subject is being challenged.
type ContextType uint8

const (
	// ContextJoinRequest gates an approval-required join request.
	ContextJoinRequest ContextType = iota + 1
	// ContextInGroupRestriction gates a member already in the group who was
	// restricted on entry.
	ContextInGroupRestriction
)

func (c ContextType) String() string {
	switch c {
	case ContextJoinRequest:
		return "join_request"
	case ContextInGroupRestriction:
		return "in_group_restriction"
	default:
		return fmt.Sprintf("context(%d)", uint8(c))
	}
}

// Option is one answer button: display text plus its single-use token.
type Option struct {
	Text  string `json:"text"`
	Token string `json:"token"`
}

// Session is the persisted record of one pending challenge.
type Session struct {
	ID              string      `json:"id"`
	ChatID          int64       `json:"chat_id"`
	UserID          int64       `json:"user_id"`
	Context         ContextType `json:"context"`
	CorrectToken    string      `json:"correct_token"`
	Options         []Option    `json:"options"`
	PromptMessageID int         `json:"prompt_message_id,omitempty"`
	CreatedUnix     int64       `json:"created_unix"`
}

// Validate rejects records that deserialized into an unusable state.
func (s *Session) Validate() error {
	if s.ID == "" {
		return E(CodeStateValidationFailed, "session has no id")
	}
	if s.ChatID == 0 || s.UserID == 0 {
		return E(CodeStateValidationFailed, "session has no subject")
	}
	if s.Context != ContextJoinRequest && s.Context != ContextInGroupRestriction {
		return E(CodeStateValidationFailed, "session has unknown context type")
	}
	if len(s.Options) == 0 {
		return E(CodeStateValidationFailed, "session has no options")
	}
	var found bool
	for _, o := range s.Options {
		if o.Token == s.CorrectToken {
			found = true
			break
		}
	}
	if !found {
		return E(CodeStateValidationFailed, "correct token not among options")
	}
	return nil
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newID mints an opaque identifier for sessions and option tokens.
func newID() (string, error) {
	return gonanoid.Generate(idAlphabet, 21)
}
