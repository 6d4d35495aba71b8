package verification

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/doormanhq/doorman/internal/kv"
)

// Config holds the session timing knobs.
type Config struct {
	Window   time.Duration // verification window; trigger-key TTL
	Margin   time.Duration // extra TTL on bookkeeping keys past the window
	Cooldown time.Duration // wrong-answer cooldown
}

// DefaultConfig returns sensible session timing defaults.
func DefaultConfig() Config {
	return Config{
		Window:   3 * time.Minute,
		Margin:   5 * time.Minute,
		Cooldown: time.Minute,
	}
}

// Result is the terminal path a transition took.
type Result uint8

const (
	ResultSuccess Result = iota + 1
	ResultFailure
	ResultExpired
	// ResultAlreadyResolved means another path won the race; nothing to do.
	ResultAlreadyResolved
)

// Outcome reports a terminal transition plus the session it resolved, so the
// caller can drive platform actions (approve/deny, edit, cleanup) from it.
type Outcome struct {
	Result  Result
	Session *Session
}

// Manager drives the session state machine against the shared store.
type Manager struct {
	store *kv.Store
	cfg   Config
	now   func() time.Time
}

func NewManager(store *kv.Store, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Window == 0 {
		cfg.Window = def.Window
	}
	if cfg.Margin == 0 {
		cfg.Margin = def.Margin
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Manager{store: store, cfg: cfg, now: time.Now}
}

// Window returns the configured verification window.
func (m *Manager) Window() time.Duration { return m.cfg.Window }

// Create performs NoSession -> Pending. One transaction writes the session
// record, a token mapping for every option (decoys included), the subject
// lookup, and the timeout trigger; all four commit together. An existing
// lookup or cooldown marker blocks creation with UserPendingOrOnCooldown.
func (m *Manager) Create(subj kv.Subject, ctxType ContextType, correctText string, decoys []string) (*Session, error) {
	sess, err := m.build(subj, ctxType, correctText, decoys)
	if err != nil {
		return nil, err
	}
	record, err := json.Marshal(sess)
	if err != nil {
		return nil, Wrap(CodeStateStorageFailed, "marshal session", err)
	}
	longTTL := m.cfg.Window + m.cfg.Margin
	err = m.store.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(kv.LookupKey(subj)); err != badger.ErrKeyNotFound {
			if err == nil {
				return E(CodeUserPendingOrOnCooldown, "subject already has a pending session")
			}
			return err
		}
		if _, err := txn.Get(kv.CooldownKey(subj)); err != badger.ErrKeyNotFound {
			if err == nil {
				return E(CodeUserPendingOrOnCooldown, "subject is on cooldown")
			}
			return err
		}
		if err := m.store.SetTTL(txn, kv.SessionKey(sess.ID), record, longTTL); err != nil {
			return err
		}
		for _, opt := range sess.Options {
			if err := m.store.SetTTL(txn, kv.TokenKey(opt.Token), []byte(sess.ID), longTTL); err != nil {
				return err
			}
		}
		if err := m.store.SetTTL(txn, kv.LookupKey(subj), []byte(sess.ID), longTTL); err != nil {
			return err
		}
		return m.store.SetTTL(txn, kv.TriggerKey(subj), []byte(sess.ID), m.cfg.Window)
	})
	if err != nil {
		if _, coded := CodeOf(err); coded {
			return nil, err
		}
		return nil, Wrap(CodeStateStorageFailed, "create session", err)
	}
	return sess, nil
}

// AttachPrompt records the delivered prompt message on the session, keeping
// the record's remaining TTL intact.
func (m *Manager) AttachPrompt(sessionID string, messageID int) error {
	err := m.store.Update(func(txn *badger.Txn) error {
		key := kv.SessionKey(sessionID)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		sess, terr := decodeSession(item)
		if terr != nil {
			return terr
		}
		sess.PromptMessageID = messageID
		record, merr := json.Marshal(sess)
		if merr != nil {
			return merr
		}
		return m.store.SetTTL(txn, key, record, m.remainingTTL(item))
	})
	if err == badger.ErrKeyNotFound {
		// Session resolved before the prompt landed; the edit path will
		// simply find nothing to update.
		return nil
	}
	if err != nil {
		if _, coded := CodeOf(err); coded {
			return err
		}
		return Wrap(CodeStateStorageFailed, "attach prompt", err)
	}
	return nil
}

// Answer performs Pending -> Success|Failure for a callback token. The token
// mapping is fetched-and-deleted in the same transaction that resolves the
// session, so a token is consumable exactly once. A caller who is not the
// session's subject gets UserNotMatch and the transaction rolls back
// untouched.
func (m *Manager) Answer(subj kv.Subject, token string) (*Outcome, error) {
	if token == "" {
		return nil, E(CodeInvalidCallbackData, "callback carries no token")
	}
	var out *Outcome
	err := m.store.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(kv.TokenKey(token))
		if err == badger.ErrKeyNotFound {
			return m.answerStaleToken(txn, subj, &out)
		}
		if err != nil {
			return err
		}
		sessionID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(kv.TokenKey(token)); err != nil {
			return err
		}
		rec, err := txn.Get(kv.SessionKey(string(sessionID)))
		if err == badger.ErrKeyNotFound {
			return E(CodeIncorrectOptionOrExpiredToken, "token points at a resolved session")
		}
		if err != nil {
			return err
		}
		sess, terr := decodeSession(rec)
		if terr != nil {
			return terr
		}
		if sess.UserID != subj.UserID {
			// Someone else's challenge. Roll back; the token stays live.
			return E(CodeUserNotMatch, "callback from a different user")
		}
		if token == sess.CorrectToken {
			if err := m.deleteBookkeeping(txn, sess); err != nil {
				return err
			}
			out = &Outcome{Result: ResultSuccess, Session: sess}
			return nil
		}
		if err := m.deleteBookkeeping(txn, sess); err != nil {
			return err
		}
		if err := m.store.SetTTL(txn, kv.CooldownKey(subj), []byte{1}, m.cfg.Cooldown); err != nil {
			return err
		}
		out = &Outcome{Result: ResultFailure, Session: sess}
		return nil
	})
	if err != nil {
		if _, coded := CodeOf(err); coded {
			return nil, err
		}
		return nil, Wrap(CodeStateStorageFailed, "answer session", err)
	}
	return out, nil
}

// answerStaleToken handles a callback whose token mapping is gone. With a
// still-pending session this counts as a wrong guess and resolves Failure;
// otherwise it is a harmless duplicate.
func (m *Manager) answerStaleToken(txn *badger.Txn, subj kv.Subject, out **Outcome) error {
	if _, err := txn.Get(kv.CooldownKey(subj)); err == nil {
		return E(CodeUserOnCooldown, "subject is on cooldown")
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	item, err := txn.Get(kv.LookupKey(subj))
	if err == badger.ErrKeyNotFound {
		return E(CodeIncorrectOptionOrExpiredToken, "no pending session for token")
	}
	if err != nil {
		return err
	}
	sessionID, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	rec, err := txn.Get(kv.SessionKey(string(sessionID)))
	if err == badger.ErrKeyNotFound {
		return E(CodeIncorrectOptionOrExpiredToken, "pending session record is gone")
	}
	if err != nil {
		return err
	}
	sess, terr := decodeSession(rec)
	if terr != nil {
		return terr
	}
	if err := m.deleteBookkeeping(txn, sess); err != nil {
		return err
	}
	if err := m.store.SetTTL(txn, kv.CooldownKey(subj), []byte{1}, m.cfg.Cooldown); err != nil {
		return err
	}
	*out = &Outcome{Result: ResultFailure, Session: sess}
	return nil
}

// Expire performs Pending -> Expired from the timeout path. When the lookup
// key is already gone the session resolved through the answer path first and
// this is a benign no-op; exactly one terminal path ever acts.
func (m *Manager) Expire(subj kv.Subject) (*Outcome, error) {
	var out *Outcome
	err := m.store.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(kv.LookupKey(subj))
		if err == badger.ErrKeyNotFound {
			out = &Outcome{Result: ResultAlreadyResolved}
			return nil
		}
		if err != nil {
			return err
		}
		sessionID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err := txn.Get(kv.SessionKey(string(sessionID)))
		if err == badger.ErrKeyNotFound {
			// Record aged out under the lookup key. Clear the residue.
			if err := txn.Delete(kv.LookupKey(subj)); err != nil {
				return err
			}
			if err := txn.Delete(kv.TriggerKey(subj)); err != nil {
				return err
			}
			out = &Outcome{Result: ResultAlreadyResolved}
			return nil
		}
		if err != nil {
			return err
		}
		sess, terr := decodeSession(rec)
		if terr != nil {
			return terr
		}
		if err := m.deleteBookkeeping(txn, sess); err != nil {
			return err
		}
		out = &Outcome{Result: ResultExpired, Session: sess}
		return nil
	})
	if err != nil {
		if _, coded := CodeOf(err); coded {
			return nil, err
		}
		return nil, Wrap(CodeStateStorageFailed, "expire session", err)
	}
	return out, nil
}

// Whitelist marks a subject as exempt from verification.
func (m *Manager) Whitelist(subj kv.Subject) error {
	return m.store.Update(func(txn *badger.Txn) error {
		return txn.Set(kv.WhitelistKey(subj), []byte{1})
	})
}

// Unwhitelist removes the exemption.
func (m *Manager) Unwhitelist(subj kv.Subject) error {
	return m.store.Update(func(txn *badger.Txn) error {
		return txn.Delete(kv.WhitelistKey(subj))
	})
}

// Whitelisted reports whether the subject skips verification.
func (m *Manager) Whitelisted(subj kv.Subject) (bool, error) {
	return m.store.Exists(kv.WhitelistKey(subj))
}

// Pending reports whether the subject has an unresolved session.
func (m *Manager) Pending(subj kv.Subject) (bool, error) {
	return m.store.Exists(kv.LookupKey(subj))
}

func (m *Manager) build(subj kv.Subject, ctxType ContextType, correctText string, decoys []string) (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, Wrap(CodeStateStorageFailed, "mint session id", err)
	}
	sess := &Session{
		ID:          id,
		ChatID:      subj.ChatID,
		UserID:      subj.UserID,
		Context:     ctxType,
		CreatedUnix: m.now().Unix(),
	}
	texts := append([]string{correctText}, decoys...)
	for i, text := range texts {
		token, err := newID()
		if err != nil {
			return nil, Wrap(CodeStateStorageFailed, "mint option token", err)
		}
		if i == 0 {
			sess.CorrectToken = token
		}
		sess.Options = append(sess.Options, Option{Text: text, Token: token})
	}
	rand.Shuffle(len(sess.Options), func(i, j int) {
		sess.Options[i], sess.Options[j] = sess.Options[j], sess.Options[i]
	})
	return sess, sess.Validate()
}

func (m *Manager) deleteBookkeeping(txn *badger.Txn, sess *Session) error {
	subj := kv.Subject{ChatID: sess.ChatID, UserID: sess.UserID}
	if err := txn.Delete(kv.SessionKey(sess.ID)); err != nil {
		return err
	}
	if err := txn.Delete(kv.LookupKey(subj)); err != nil {
		return err
	}
	if err := txn.Delete(kv.TriggerKey(subj)); err != nil {
		return err
	}
	for _, opt := range sess.Options {
		if err := txn.Delete(kv.TokenKey(opt.Token)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) remainingTTL(item *badger.Item) time.Duration {
	if exp := item.ExpiresAt(); exp != 0 {
		if r := time.Unix(int64(exp), 0).Sub(m.now()); r > 0 {
			return r
		}
	}
	return m.cfg.Margin
}

func decodeSession(item *badger.Item) (*Session, error) {
	var sess Session
	err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &sess)
	})
	if err != nil {
		return nil, Wrap(CodeStateDeserializationFailed, "decode session record", err)
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return &sess, nil
}
