package tgui

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "poolbot/internal/transport"
	"poolbot/internal/transport/transporttest"
)

func TestBuilderEscapes(t *testing.T) {
	msg := New().
		Title("🎮", "Trivia <night>").
		KV("Total entries", "3").
		Bullets("A & B", " ", "C").
		Blank().
		HTML(JoinH(", ", Mention("Ann", 7), "", B("x"))).
		ReplyTo(42).
		Build()

	assert.Equal(t, "🎮 <b>Trivia &lt;night&gt;</b>\n"+
		"• <b>Total entries</b>: 3\n"+
		"• A &amp; B\n"+
		"• C\n"+
		"\n"+
		`<a href="tg://user?id=7">Ann</a>, <b>x</b>`, msg.Text)
	assert.Equal(t, kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyTo: 42}, *msg.Opt)
}

func TestBuilderSend(t *testing.T) {
	fa := transporttest.New()
	_, err := New().Line("hi").Build().Send(context.Background(), fa, kit.ChatTarget{ChatID: -5, ThreadID: 3})
	require.NoError(t, err)
	sent := fa.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, kit.ChatTarget{ChatID: -5, ThreadID: 3}, sent[0].Chat)
	assert.Equal(t, "HTML", sent[0].Opt.ParseMode)
}

func TestTruncRunes(t *testing.T) {
	assert.Equal(t, "héllo", TruncRunes("héllo", 5))
	assert.Equal(t, "hé…", TruncRunes("héllo", 3))
	assert.Equal(t, "", TruncRunes("héllo", 0))
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	sub, cur, pages := Page(items, 1, 2)
	assert.Equal(t, []int{3, 4}, sub)
	assert.Equal(t, 1, cur)
	assert.Equal(t, 3, pages)

	sub, cur, _ = Page(items, 9, 2)
	assert.Equal(t, []int{5}, sub)
	assert.Equal(t, 2, cur)

	sub, cur, pages = Page([]int{}, 0, 2)
	assert.Empty(t, sub)
	assert.Equal(t, 0, cur)
	assert.Equal(t, 1, pages)
	assert.Equal(t, "Page 1/1", PageLabel(cur, pages))
}
