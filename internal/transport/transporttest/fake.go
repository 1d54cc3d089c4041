// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	kit "poolbot/internal/transport"
)

type Sent struct {
	Chat    kit.ChatTarget
	Private bool
	Text    string
	Opt     kit.SendOptions
}

// Adapter records everything sent. Members and LookupErr control
// LookupMember; Unreachable and Fail control SendPrivate.
type Adapter struct {
	mu          sync.Mutex
	sent        []Sent
	nextID      int
	Members     map[int64]map[int64]kit.Member // chat -> user -> member
	LookupErr   error
	Unreachable map[int64]bool
	Fail        map[int64]error
	menu        []kit.BotCommand
}

func New() *Adapter {
	return &Adapter{
		Members:     map[int64]map[int64]kit.Member{},
		Unreachable: map[int64]bool{},
		Fail:        map[int64]error{},
	}
}

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) record(s Sent) kit.MessageRef {
	a.nextID++
	a.sent = append(a.sent, s)
	return kit.MessageRef{ChatID: s.Chat.ChatID, ThreadID: s.Chat.ThreadID, MessageID: a.nextID}
}

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Sent{Chat: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	return a.record(s), nil
}

func (a *Adapter) SendPrivate(ctx context.Context, userID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Unreachable[userID] {
		return kit.MessageRef{}, fmt.Errorf("send to %d: %w", userID, kit.ErrRecipientUnreachable)
	}
	if err := a.Fail[userID]; err != nil {
		return kit.MessageRef{}, err
	}
	s := Sent{Chat: kit.ChatTarget{ChatID: userID}, Private: true, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	return a.record(s), nil
}

// SetMember registers m in chatID.
func (a *Adapter) SetMember(chatID int64, m kit.Member) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Members[chatID] == nil {
		a.Members[chatID] = map[int64]kit.Member{}
	}
	a.Members[chatID][m.ID] = m
}

// LookupMember returns the registered member, or a plain "member" when none
// was registered.
func (a *Adapter) LookupMember(_ context.Context, chatID, userID int64) (kit.Member, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.LookupErr != nil {
		return kit.Member{}, a.LookupErr
	}
	if m, ok := a.Members[chatID][userID]; ok {
		return m, nil
	}
	return kit.Member{ID: userID, DisplayName: fmt.Sprintf("user%d", userID), Roles: []string{"member"}}, nil
}

func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	return nil
}

func (a *Adapter) MenuCommands() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}

// Sent returns a copy of every message sent so far.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// SentTo returns texts sent to chatID, private or not.
func (a *Adapter) SentTo(chatID int64) []string {
	var out []string
	for _, s := range a.Sent() {
		if s.Chat.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent = nil
	a.mu.Unlock()
}
