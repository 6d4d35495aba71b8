// Package gate wires the dispatch pipeline, rate limiter, session state
// machine, quiz provider and platform transport into the membership
// gatekeeper. Each inbound event becomes one job; jobs re-enter the pipeline
// for every follow-up platform action.
package gate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/doormanhq/doorman/internal/dispatch"
	"github.com/doormanhq/doorman/internal/kv"
	"github.com/doormanhq/doorman/internal/platform"
	"github.com/doormanhq/doorman/internal/quiz"
	"github.com/doormanhq/doorman/internal/schedule"
	"github.com/doormanhq/doorman/internal/verification"
)

// Gate retry delays: denial is backpressure, so the lane slows down rather
// than dropping the job.
const (
	startRetryDelay    = 1000 * time.Millisecond
	callbackRetryDelay = 500 * time.Millisecond

	// timeoutGrace delays the pull-path backstop slightly past the trigger
	// TTL so the push path usually resolves first.
	timeoutGrace = 2 * time.Second
)

// Rate-limited action names.
const (
	ActionStart    = "verification.start"
	ActionCallback = "verification.callback"
)

// Runtime bundles the collaborators every job needs.
type Runtime struct {
	Pipeline *dispatch.Pipeline
	Sessions *verification.Manager
	Quizzes  *quiz.Provider
	Actions  platform.Actions
	Cleanup  *schedule.DueQueue
	Timeouts *schedule.DueQueue

	// CleanupDelay is how long a resolved prompt lingers before deletion.
	CleanupDelay time.Duration
}

// timeoutPayload rides the timeout due queue.
type timeoutPayload struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

// cleanupPayload rides the message-cleanup due queue.
type cleanupPayload struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// submitAccept dispatches the platform actions for a passed challenge.
func (r *Runtime) submitAccept(subj kv.Subject, ctxType verification.ContextType) {
	switch ctxType {
	case verification.ContextJoinRequest:
		r.Pipeline.Submit(&ApproveJoin{rt: r, Subject: subj})
	case verification.ContextInGroupRestriction:
		r.Pipeline.Submit(&LiftRestriction{rt: r, Subject: subj})
	}
}

// submitDeny dispatches the platform actions for a failed or expired
// challenge.
func (r *Runtime) submitDeny(subj kv.Subject, ctxType verification.ContextType) {
	switch ctxType {
	case verification.ContextJoinRequest:
		r.Pipeline.Submit(&DeclineJoin{rt: r, Subject: subj})
	case verification.ContextInGroupRestriction:
		r.Pipeline.Submit(&KickMember{rt: r, Subject: subj})
	}
}

// resolvePrompt edits the prompt to its terminal status text and schedules its
// delayed deletion.
func (r *Runtime) resolvePrompt(sess *verification.Session, text string) {
	if sess.PromptMessageID == 0 {
		return
	}
	r.Pipeline.Submit(&EditPrompt{
		rt:        r,
		ChatID:    sess.ChatID,
		MessageID: sess.PromptMessageID,
		Text:      text,
	})
	r.scheduleCleanup(sess.ChatID, sess.PromptMessageID)
}

func (r *Runtime) scheduleCleanup(chatID int64, messageID int) {
	payload, err := json.Marshal(cleanupPayload{ChatID: chatID, MessageID: messageID})
	if err != nil {
		slog.Error("marshal cleanup payload", "error", err)
		return
	}
	if err := r.Cleanup.Add(payload, time.Now().Add(r.CleanupDelay)); err != nil {
		slog.Error("schedule prompt cleanup", "chat", chatID, "message", messageID, "error", err)
	}
}

func (r *Runtime) scheduleTimeoutBackstop(subj kv.Subject) error {
	payload, err := json.Marshal(timeoutPayload{ChatID: subj.ChatID, UserID: subj.UserID})
	if err != nil {
		return fmt.Errorf("marshal timeout payload: %w", err)
	}
	due := time.Now().Add(r.Sessions.Window() + timeoutGrace)
	if err := r.Timeouts.Add(payload, due); err != nil {
		return fmt.Errorf("schedule timeout backstop: %w", err)
	}
	return nil
}

func (r *Runtime) answerCallback(callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := r.Actions.AnswerCallback(callbackID, text); err != nil {
		slog.Warn("answer callback", "error", err)
	}
}
