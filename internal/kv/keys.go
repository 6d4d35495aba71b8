package kv

import (
	"bytes"
	"fmt"
	"strconv"
)

// Key prefixes. Each prefix ends with '|' as a separator.
const (
	PrefixSession   = "vs|" // vs|{session_id}
	PrefixToken     = "vt|" // vt|{token} => session_id
	PrefixLookup    = "vl|" // vl|{chat_id}\x00{user_id} => session_id
	PrefixTrigger   = "vx|" // vx|{chat_id}\x00{user_id} => session_id, TTL = verification window
	PrefixCooldown  = "vc|" // vc|{chat_id}\x00{user_id}
	PrefixWhitelist = "vw|" // vw|{chat_id}\x00{user_id}
	PrefixRateLimit = "rl|" // rl|{algo}|{action}\x00{chat_id}\x00{user_id}
	PrefixDue       = "dq|" // dq|{queue}\x00{due_ns:8BE}{entry_id}

	// Trigger keys written by pre-1.0 deployments: verify|{chat_id}:{user_id}.
	// Still recognized on the expiry path so an upgrade doesn't strand sessions.
	PrefixLegacyTrigger = "verify|"
)

const sep = '\x00'

// Subject identifies a rate-limited or session-scoped entity.
type Subject struct {
	ChatID int64
	UserID int64
}

func (s Subject) String() string {
	return strconv.FormatInt(s.ChatID, 10) + ":" + strconv.FormatInt(s.UserID, 10)
}

// SessionKey returns the key for a session record: vs|{session_id}
func SessionKey(sessionID string) []byte {
	return append([]byte(PrefixSession), sessionID...)
}

// TokenKey returns the key for a token->session mapping: vt|{token}
func TokenKey(token string) []byte {
	return append([]byte(PrefixToken), token...)
}

// LookupKey returns the subject->session lookup key: vl|{chat_id}\x00{user_id}
func LookupKey(subj Subject) []byte {
	return subjectKey(PrefixLookup, subj)
}

// TriggerKey returns the timeout-trigger key: vx|{chat_id}\x00{user_id}
// Its TTL equals the verification window; its expiry fires the timeout.
func TriggerKey(subj Subject) []byte {
	return subjectKey(PrefixTrigger, subj)
}

// CooldownKey returns the cooldown marker key: vc|{chat_id}\x00{user_id}
func CooldownKey(subj Subject) []byte {
	return subjectKey(PrefixCooldown, subj)
}

// WhitelistKey returns the whitelist marker key: vw|{chat_id}\x00{user_id}
func WhitelistKey(subj Subject) []byte {
	return subjectKey(PrefixWhitelist, subj)
}

// RateLimitKey returns the limiter state key: rl|{algo}|{action}\x00{chat_id}\x00{user_id}
func RateLimitKey(algo, action string, subj Subject) []byte {
	k := append([]byte(PrefixRateLimit), algo...)
	k = append(k, '|')
	k = append(k, action...)
	k = append(k, sep)
	k = strconv.AppendInt(k, subj.ChatID, 10)
	k = append(k, sep)
	return strconv.AppendInt(k, subj.UserID, 10)
}

// DueKey returns a due-queue entry key: dq|{queue}\x00{due_ns:8BE}{entry_id}
// Entries sort by due time, then entry ID for uniqueness.
func DueKey(queue string, dueNs uint64, entryID string) []byte {
	k := append([]byte(PrefixDue), queue...)
	k = append(k, sep)
	k = PutUint64BE(k, dueNs)
	return append(k, entryID...)
}

// DuePrefix returns the scan prefix for a due queue: dq|{queue}\x00
func DuePrefix(queue string) []byte {
	k := append([]byte(PrefixDue), queue...)
	return append(k, sep)
}

// DueBound returns the exclusive scan bound for entries due at or before dueNs:
// dq|{queue}\x00{dueNs+1:8BE}
func DueBound(queue string, dueNs uint64) []byte {
	k := append([]byte(PrefixDue), queue...)
	k = append(k, sep)
	return PutUint64BE(k, dueNs+1)
}

// SplitDueKey extracts the due time and entry ID from a due-queue key.
func SplitDueKey(queue string, key []byte) (dueNs uint64, entryID string, ok bool) {
	prefix := DuePrefix(queue)
	if !bytes.HasPrefix(key, prefix) || len(key) < len(prefix)+8 {
		return 0, "", false
	}
	rest := key[len(prefix):]
	return GetUint64BE(rest), string(rest[8:]), true
}

func subjectKey(prefix string, subj Subject) []byte {
	k := []byte(prefix)
	k = strconv.AppendInt(k, subj.ChatID, 10)
	k = append(k, sep)
	return strconv.AppendInt(k, subj.UserID, 10)
}

// SplitSubjectKey parses a subject-scoped key ({prefix}{chat_id}\x00{user_id})
// back into its subject. Used when a key expiry has to be mapped to an action.
func SplitSubjectKey(prefix string, key []byte) (Subject, bool) {
	if !bytes.HasPrefix(key, []byte(prefix)) {
		return Subject{}, false
	}
	rest := key[len(prefix):]
	i := bytes.IndexByte(rest, sep)
	if i < 0 {
		return Subject{}, false
	}
	chatID, err := strconv.ParseInt(string(rest[:i]), 10, 64)
	if err != nil {
		return Subject{}, false
	}
	userID, err := strconv.ParseInt(string(rest[i+1:]), 10, 64)
	if err != nil {
		return Subject{}, false
	}
	return Subject{ChatID: chatID, UserID: userID}, true
}

// SplitLegacyTriggerKey parses a pre-1.0 trigger key: verify|{chat_id}:{user_id}
func SplitLegacyTriggerKey(key []byte) (Subject, bool) {
	if !bytes.HasPrefix(key, []byte(PrefixLegacyTrigger)) {
		return Subject{}, false
	}
	rest := string(key[len(PrefixLegacyTrigger):])
	i := bytes.IndexByte([]byte(rest), ':')
	if i < 0 {
		return Subject{}, false
	}
	chatID, err1 := strconv.ParseInt(rest[:i], 10, 64)
	userID, err2 := strconv.ParseInt(rest[i+1:], 10, 64)
	if err1 != nil || err2 != nil {
		return Subject{}, false
	}
	return Subject{ChatID: chatID, UserID: userID}, true
}

// ParseSubject parses the "{chat_id}:{user_id}" form produced by Subject.String.
func ParseSubject(s string) (Subject, error) {
	var subj Subject
	i := bytes.IndexByte([]byte(s), ':')
	if i < 0 {
		return subj, fmt.Errorf("malformed subject %q", s)
	}
	chatID, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return subj, fmt.Errorf("malformed subject chat id %q: %w", s, err)
	}
	userID, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return subj, fmt.Errorf("malformed subject user id %q: %w", s, err)
	}
	subj.ChatID = chatID
	subj.UserID = userID
	return subj, nil
}
