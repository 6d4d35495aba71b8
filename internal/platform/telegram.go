package platform

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tb "gopkg.in/tucnak/telebot.v2"
)

// Telegram implements Actions over the Bot API and feeds inbound updates to an
// Events sink.
type Telegram struct {
	bot *tb.Bot
}

// NewTelegram connects a long-polling bot.
func NewTelegram(token string) (*Telegram, error) {
	bot, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// Listen registers the inbound handlers and starts the update loop. It blocks
// until Stop is called.
//
// TODO: chat_join_request updates need the telebot v3 poller; until then join
// requests arrive through the admin intake hook (POST /hooks/join-request)
// while direct group entry runs through the restriction flow.
func (t *Telegram) Listen(sink Events) {
	t.bot.Handle(tb.OnUserJoined, func(m *tb.Message) {
		if m.UserJoined == nil || m.Chat == nil {
			return
		}
		sink.MemberJoined(m.Chat.ID, m.UserJoined.ID, displayName(m.UserJoined))
	})
	t.bot.Handle(tb.OnCallback, func(c *tb.Callback) {
		if c.Sender == nil || c.Message == nil || c.Message.Chat == nil {
			return
		}
		data := strings.TrimPrefix(c.Data, "\f")
		sink.CallbackReceived(c.Message.Chat.ID, c.Sender.ID, c.ID, data, c.Message.ID)
	})
	t.bot.Handle("/trust", func(m *tb.Message) { t.handleTrust(sink, m, true) })
	t.bot.Handle("/untrust", func(m *tb.Message) { t.handleTrust(sink, m, false) })
	t.bot.Start()
}

// Stop terminates the update loop.
func (t *Telegram) Stop() {
	t.bot.Stop()
}

// handleTrust lets a chat admin whitelist the sender of a replied-to message.
func (t *Telegram) handleTrust(sink Events, m *tb.Message, trusted bool) {
	if m.Chat == nil || m.Sender == nil || m.ReplyTo == nil || m.ReplyTo.Sender == nil {
		return
	}
	member, err := t.bot.ChatMemberOf(m.Chat, m.Sender)
	if err != nil {
		slog.Warn("trust command member lookup failed", "chat", m.Chat.ID, "error", err)
		return
	}
	if member.Role != tb.Administrator && member.Role != tb.Creator {
		return
	}
	sink.WhitelistChanged(m.Chat.ID, m.ReplyTo.Sender.ID, trusted)
}

func (t *Telegram) ApproveJoinRequest(chatID, userID int64) error {
	return t.joinRequestRaw("approveChatJoinRequest", chatID, userID)
}

func (t *Telegram) DeclineJoinRequest(chatID, userID int64) error {
	return t.joinRequestRaw("declineChatJoinRequest", chatID, userID)
}

// joinRequestRaw drives the join-request methods through the raw API; they
// postdate the bound telebot version.
func (t *Telegram) joinRequestRaw(method string, chatID, userID int64) error {
	payload := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"user_id": strconv.FormatInt(userID, 10),
	}
	if _, err := t.bot.Raw(method, payload); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (t *Telegram) SendPrompt(chatID int64, text string, options []PromptOption) (int, error) {
	var rows [][]tb.InlineButton
	for _, opt := range options {
		rows = append(rows, []tb.InlineButton{{Text: opt.Text, Data: opt.Data}})
	}
	msg, err := t.bot.Send(tb.ChatID(chatID), text, &tb.SendOptions{
		ReplyMarkup: &tb.ReplyMarkup{InlineKeyboard: rows},
	})
	if err != nil {
		return 0, fmt.Errorf("send prompt: %w", err)
	}
	return msg.ID, nil
}

func (t *Telegram) EditMessage(chatID int64, messageID int, text string) error {
	_, err := t.bot.Edit(storedMessage{chatID: chatID, messageID: messageID}, text)
	if err != nil && err != tb.ErrTrueResult {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (t *Telegram) DeleteMessage(chatID int64, messageID int) error {
	if err := t.bot.Delete(storedMessage{chatID: chatID, messageID: messageID}); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (t *Telegram) RestrictMember(chatID, userID int64) error {
	member := &tb.ChatMember{
		User:            &tb.User{ID: userID},
		Rights:          tb.NoRights(),
		RestrictedUntil: tb.Forever(),
	}
	if err := t.bot.Restrict(&tb.Chat{ID: chatID}, member); err != nil {
		return fmt.Errorf("restrict member: %w", err)
	}
	return nil
}

func (t *Telegram) UnrestrictMember(chatID, userID int64) error {
	member := &tb.ChatMember{
		User:   &tb.User{ID: userID},
		Rights: tb.NoRestrictions(),
	}
	if err := t.bot.Restrict(&tb.Chat{ID: chatID}, member); err != nil {
		return fmt.Errorf("unrestrict member: %w", err)
	}
	return nil
}

func (t *Telegram) BanMember(chatID, userID int64) error {
	member := &tb.ChatMember{
		User:            &tb.User{ID: userID},
		RestrictedUntil: tb.Forever(),
	}
	if err := t.bot.Ban(&tb.Chat{ID: chatID}, member); err != nil {
		return fmt.Errorf("ban member: %w", err)
	}
	return nil
}

func (t *Telegram) UnbanMember(chatID, userID int64) error {
	if err := t.bot.Unban(&tb.Chat{ID: chatID}, &tb.User{ID: userID}); err != nil {
		return fmt.Errorf("unban member: %w", err)
	}
	return nil
}

func (t *Telegram) AnswerCallback(callbackID, text string) error {
	err := t.bot.Respond(&tb.Callback{ID: callbackID}, &tb.CallbackResponse{Text: text})
	if err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// storedMessage satisfies tb.Editable for messages we only know by id.
type storedMessage struct {
	chatID    int64
	messageID int
}

func (s storedMessage) MessageSig() (string, int64) {
	return strconv.Itoa(s.messageID), s.chatID
}

func displayName(u *tb.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return name
}
