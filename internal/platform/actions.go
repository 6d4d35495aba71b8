// Package platform isolates the chat-platform transport. The core never talks
// to Telegram directly; it drives the Actions interface and receives inbound
// activity through the Events interface, so everything above this package can
// run against fakes.
package platform

// PromptOption is one answer button on a challenge prompt.
type PromptOption struct {
	Text string
	Data string
}

// Actions are the outbound platform operations. All of them are invoked from
// fire-and-forget jobs; failures are logged by the caller, never retried into
// user-visible duplicates.
type Actions interface {
	ApproveJoinRequest(chatID, userID int64) error
	DeclineJoinRequest(chatID, userID int64) error
	SendPrompt(chatID int64, text string, options []PromptOption) (messageID int, err error)
	EditMessage(chatID int64, messageID int, text string) error
	DeleteMessage(chatID int64, messageID int) error
	RestrictMember(chatID, userID int64) error
	UnrestrictMember(chatID, userID int64) error
	BanMember(chatID, userID int64) error
	UnbanMember(chatID, userID int64) error
	// AnswerCallback shows a silent caller-only notice on a callback query.
	AnswerCallback(callbackID, text string) error
}

// Events are the inbound platform notifications the gatekeeper consumes.
// Implementations must return quickly; handlers translate each event into a
// job and hand it to the pipeline.
type Events interface {
	MemberJoined(chatID, userID int64, displayName string)
	JoinRequested(chatID, userID int64, displayName string)
	CallbackReceived(chatID, userID int64, callbackID, data string, messageID int)
	WhitelistChanged(chatID, userID int64, trusted bool)
}
