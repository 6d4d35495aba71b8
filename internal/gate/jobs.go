package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/doormanhq/doorman/internal/kv"
	"github.com/doormanhq/doorman/internal/platform"
	"github.com/doormanhq/doorman/internal/quiz"
	"github.com/doormanhq/doorman/internal/verification"
)

// StartVerification challenges a subject. Ordered per subject and gated.
type StartVerification struct {
	rt      *Runtime
	Subject kv.Subject
	Context verification.ContextType
	Name    string
}

func (j *StartVerification) Kind() string         { return "verification.start" }
func (j *StartVerification) PartitionKey() string { return j.Subject.String() }

func (j *StartVerification) Gate() (string, kv.Subject, time.Duration) {
	return ActionStart, j.Subject, startRetryDelay
}

func (j *StartVerification) Process(ctx context.Context) error {
	trusted, err := j.rt.Sessions.Whitelisted(j.Subject)
	if err != nil {
		return err
	}
	if trusted {
		slog.Info("whitelisted subject admitted without challenge", "subject", j.Subject)
		j.rt.submitAccept(j.Subject, j.Context)
		return nil
	}
	q, err := j.pickQuiz()
	if err != nil {
		if verification.HasCode(err, verification.CodeNoQuizzesAvailable) {
			// Nothing to challenge with. Admit rather than silently lock the
			// group.
			slog.Warn("admitting without challenge", "subject", j.Subject, "error", err)
			j.rt.submitAccept(j.Subject, j.Context)
			return nil
		}
		return err
	}
	sess, err := j.rt.Sessions.Create(j.Subject, j.Context, q.Answer, q.Decoys)
	if err != nil {
		if verification.HasCode(err, verification.CodeUserPendingOrOnCooldown) {
			// No session will track this subject, so no restriction either: a
			// member rejoining on cooldown must not end up muted with nothing
			// left to lift it.
			slog.Debug("challenge suppressed; subject pending or on cooldown", "subject", j.Subject)
			return nil
		}
		return err
	}
	if j.Context == verification.ContextInGroupRestriction {
		j.rt.Pipeline.Submit(&Restrict{rt: j.rt, Subject: j.Subject})
	}
	options := make([]platform.PromptOption, 0, len(sess.Options))
	for _, opt := range sess.Options {
		options = append(options, platform.PromptOption{Text: opt.Text, Data: opt.Token})
	}
	messageID, err := j.rt.Actions.SendPrompt(sess.ChatID, promptText(j.Name, q.Question), options)
	if err != nil {
		return err
	}
	if err := j.rt.Sessions.AttachPrompt(sess.ID, messageID); err != nil {
		return err
	}
	return j.rt.scheduleTimeoutBackstop(j.Subject)
}

// pickQuiz reports missing challenge content as a coded error so the caller
// resolves it like every other recoverable condition.
func (j *StartVerification) pickQuiz() (*quiz.Quiz, error) {
	if q := j.rt.Quizzes.GetRandomQuiz(); q != nil {
		return q, nil
	}
	return nil, verification.E(verification.CodeNoQuizzesAvailable, "no quizzes loaded")
}

// ProcessCallback resolves an answer button press. Ordered per subject and
// gated.
type ProcessCallback struct {
	rt         *Runtime
	Subject    kv.Subject
	CallbackID string
	Data       string
}

func (j *ProcessCallback) Kind() string         { return "verification.callback" }
func (j *ProcessCallback) PartitionKey() string { return j.Subject.String() }

func (j *ProcessCallback) Gate() (string, kv.Subject, time.Duration) {
	return ActionCallback, j.Subject, callbackRetryDelay
}

func (j *ProcessCallback) Process(ctx context.Context) error {
	outcome, err := j.rt.Sessions.Answer(j.Subject, j.Data)
	if err != nil {
		code, ok := verification.CodeOf(err)
		if !ok {
			return err
		}
		switch code {
		case verification.CodeUserNotMatch:
			j.rt.answerCallback(j.CallbackID, textNotYourChallenge)
		case verification.CodeUserOnCooldown:
			j.rt.answerCallback(j.CallbackID, textOnCooldown)
		case verification.CodeInvalidCallbackData, verification.CodeIncorrectOptionOrExpiredToken:
			j.rt.answerCallback(j.CallbackID, textChallengeGone)
		default:
			return err
		}
		return nil
	}
	sess := outcome.Session
	subj := kv.Subject{ChatID: sess.ChatID, UserID: sess.UserID}
	switch outcome.Result {
	case verification.ResultSuccess:
		j.rt.answerCallback(j.CallbackID, textAnswerCorrect)
		j.rt.submitAccept(subj, sess.Context)
		j.rt.resolvePrompt(sess, textPromptPassed)
	case verification.ResultFailure:
		j.rt.answerCallback(j.CallbackID, textAnswerWrong)
		j.rt.submitDeny(subj, sess.Context)
		j.rt.resolvePrompt(sess, textPromptFailed)
	}
	return nil
}

// SessionTimeout fires the Expired transition. Ordered per subject so it
// serializes against a racing answer for the same subject.
type SessionTimeout struct {
	rt      *Runtime
	Subject kv.Subject
}

func (j *SessionTimeout) Kind() string         { return "verification.timeout" }
func (j *SessionTimeout) PartitionKey() string { return j.Subject.String() }

func (j *SessionTimeout) Process(ctx context.Context) error {
	outcome, err := j.rt.Sessions.Expire(j.Subject)
	if err != nil {
		return err
	}
	if outcome.Result != verification.ResultExpired {
		// The answer path won; both timeout mechanisms land here harmlessly.
		return nil
	}
	sess := outcome.Session
	j.rt.submitDeny(j.Subject, sess.Context)
	j.rt.resolvePrompt(sess, textPromptTimedOut)
	return nil
}

// ApproveJoin accepts a pending join request. Parallel lane.
type ApproveJoin struct {
	rt      *Runtime
	Subject kv.Subject
}

func (j *ApproveJoin) Kind() string { return "platform.approve_join" }

func (j *ApproveJoin) Process(ctx context.Context) error {
	return j.rt.Actions.ApproveJoinRequest(j.Subject.ChatID, j.Subject.UserID)
}

// DeclineJoin rejects a pending join request. Parallel lane.
type DeclineJoin struct {
	rt      *Runtime
	Subject kv.Subject
}

func (j *DeclineJoin) Kind() string { return "platform.decline_join" }

func (j *DeclineJoin) Process(ctx context.Context) error {
	return j.rt.Actions.DeclineJoinRequest(j.Subject.ChatID, j.Subject.UserID)
}

// Restrict mutes a just-joined member until they pass the challenge.
type Restrict struct {
	rt      *Runtime
	Subject kv.Subject
}

func (j *Restrict) Kind() string { return "platform.restrict" }

func (j *Restrict) Process(ctx context.Context) error {
	return j.rt.Actions.RestrictMember(j.Subject.ChatID, j.Subject.UserID)
}

// LiftRestriction restores a verified member's rights.
type LiftRestriction struct {
	rt      *Runtime
	Subject kv.Subject
}

func (j *LiftRestriction) Kind() string { return "platform.lift_restriction" }

func (j *LiftRestriction) Process(ctx context.Context) error {
	return j.rt.Actions.UnrestrictMember(j.Subject.ChatID, j.Subject.UserID)
}

// KickMember removes a failed member: ban then immediate unban, so they can
// knock again later.
type KickMember struct {
	rt      *Runtime
	Subject kv.Subject
}

func (j *KickMember) Kind() string { return "platform.kick" }

func (j *KickMember) Process(ctx context.Context) error {
	if err := j.rt.Actions.BanMember(j.Subject.ChatID, j.Subject.UserID); err != nil {
		return err
	}
	return j.rt.Actions.UnbanMember(j.Subject.ChatID, j.Subject.UserID)
}

// EditPrompt rewrites a prompt message to its terminal status text.
type EditPrompt struct {
	rt        *Runtime
	ChatID    int64
	MessageID int
	Text      string
}

func (j *EditPrompt) Kind() string { return "platform.edit_prompt" }

func (j *EditPrompt) Process(ctx context.Context) error {
	return j.rt.Actions.EditMessage(j.ChatID, j.MessageID, j.Text)
}

// DeleteMessage removes a message whose cleanup delay elapsed. A message the
// platform already lost is success, not error.
type DeleteMessage struct {
	rt        *Runtime
	ChatID    int64
	MessageID int
}

func (j *DeleteMessage) Kind() string { return "platform.delete_message" }

func (j *DeleteMessage) Process(ctx context.Context) error {
	if err := j.rt.Actions.DeleteMessage(j.ChatID, j.MessageID); err != nil {
		slog.Debug("prompt already gone at cleanup", "chat", j.ChatID, "message", j.MessageID, "error", err)
	}
	return nil
}
