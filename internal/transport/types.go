package transport

import (
	"context"
	"errors"
)

// ErrRecipientUnreachable marks a private-message delivery the platform will
// not accept until the recipient acts (DM closed, bot blocked, account gone).
var ErrRecipientUnreachable = errors.New("recipient unreachable")

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id, 0 if none
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
	IsPrivate    bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
}

// Member is a platform user as seen from one group chat.
// Roles holds the member's status ("creator", "administrator", "member", ...)
// plus any custom title.
type Member struct {
	ID          int64
	Username    string
	DisplayName string
	Roles       []string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPrivate messages a user directly. Failures the user must fix on
	// their side wrap ErrRecipientUnreachable.
	SendPrivate(ctx context.Context, userID int64, text string, opt *SendOptions) (MessageRef, error)
	LookupMember(ctx context.Context, chatID, userID int64) (Member, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu to the platform.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
