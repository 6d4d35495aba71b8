package gate

import (
	"encoding/json"
	"log/slog"

	"github.com/doormanhq/doorman/internal/kv"
	"github.com/doormanhq/doorman/internal/schedule"
	"github.com/doormanhq/doorman/internal/verification"
)

// Gatekeeper translates inbound platform events and scheduling callbacks into
// pipeline jobs. It is the only entry point into the pipeline.
type Gatekeeper struct {
	rt *Runtime
}

func NewGatekeeper(rt *Runtime) *Gatekeeper {
	return &Gatekeeper{rt: rt}
}

// MemberJoined challenges a member who entered the group directly: restrict on
// entry, lift on success.
func (g *Gatekeeper) MemberJoined(chatID, userID int64, displayName string) {
	g.rt.Pipeline.Submit(&StartVerification{
		rt:      g.rt,
		Subject: kv.Subject{ChatID: chatID, UserID: userID},
		Context: verification.ContextInGroupRestriction,
		Name:    displayName,
	})
}

// JoinRequested challenges an approval-required join request.
func (g *Gatekeeper) JoinRequested(chatID, userID int64, displayName string) {
	g.rt.Pipeline.Submit(&StartVerification{
		rt:      g.rt,
		Subject: kv.Subject{ChatID: chatID, UserID: userID},
		Context: verification.ContextJoinRequest,
		Name:    displayName,
	})
}

// CallbackReceived routes an answer button press.
func (g *Gatekeeper) CallbackReceived(chatID, userID int64, callbackID, data string, messageID int) {
	g.rt.Pipeline.Submit(&ProcessCallback{
		rt:         g.rt,
		Subject:    kv.Subject{ChatID: chatID, UserID: userID},
		CallbackID: callbackID,
		Data:       data,
	})
}

// WhitelistChanged applies an admin trust decision.
func (g *Gatekeeper) WhitelistChanged(chatID, userID int64, trusted bool) {
	subj := kv.Subject{ChatID: chatID, UserID: userID}
	var err error
	if trusted {
		err = g.rt.Sessions.Whitelist(subj)
	} else {
		err = g.rt.Sessions.Unwhitelist(subj)
	}
	if err != nil {
		slog.Error("update whitelist", "subject", subj, "trusted", trusted, "error", err)
		return
	}
	slog.Info("whitelist updated", "subject", subj, "trusted", trusted)
}

// TriggerExpired is the push-path timeout: a trigger key's TTL elapsed.
func (g *Gatekeeper) TriggerExpired(subj kv.Subject) {
	g.rt.Pipeline.Submit(&SessionTimeout{rt: g.rt, Subject: subj})
}

// TimeoutDue is the pull-path timeout backstop.
func (g *Gatekeeper) TimeoutDue(entry schedule.Entry) {
	var p timeoutPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		slog.Error("malformed timeout payload", "entry", entry.ID, "error", err)
		return
	}
	g.rt.Pipeline.Submit(&SessionTimeout{
		rt:      g.rt,
		Subject: kv.Subject{ChatID: p.ChatID, UserID: p.UserID},
	})
}

// CleanupDue deletes a prompt whose linger delay elapsed.
func (g *Gatekeeper) CleanupDue(entry schedule.Entry) {
	var p cleanupPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		slog.Error("malformed cleanup payload", "entry", entry.ID, "error", err)
		return
	}
	g.rt.Pipeline.Submit(&DeleteMessage{rt: g.rt, ChatID: p.ChatID, MessageID: p.MessageID})
}
