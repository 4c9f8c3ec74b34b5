package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBot records sent messages and serves updates from a channel.
type mockBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	updates chan tgbotapi.Update
	stopped int
}

func newMockBot() *mockBot {
	return &mockBot{updates: make(chan tgbotapi.Update, 16)}
}

func (b *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (b *mockBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *mockBot) StopReceivingUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped++
}

func (b *mockBot) messages() []tgbotapi.MessageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), b.sent...)
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: "player"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}}
}

func testStatus() SessionStatus {
	return SessionStatus{Connected: true, Addr: "mud.pkuxkx.net:8081", State: Authenticated}
}

func TestTelegramHandleUpdate(t *testing.T) {
	bot := newMockBot()
	tb := newTelegramBridge(bot, []int64{42}, testStatus)

	cmd, ok := tb.handleUpdate(textUpdate(42, " look \n"))
	require.True(t, ok)
	assert.Equal(t, Command{Text: "look", Source: "telegram"}, cmd)
	assert.Empty(t, bot.messages())
}

func TestTelegramUnauthorized(t *testing.T) {
	bot := newMockBot()
	tb := newTelegramBridge(bot, []int64{42}, testStatus)

	_, ok := tb.handleUpdate(textUpdate(7, "look"))
	assert.False(t, ok)

	msgs := bot.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(7), msgs[0].ChatID)
	assert.Equal(t, "Unauthorized", msgs[0].Text)
}

func TestTelegramBotCommands(t *testing.T) {
	bot := newMockBot()
	tb := newTelegramBridge(bot, []int64{42}, testStatus)

	for _, text := range []string{"/start", "/help", "/status", ""} {
		_, ok := tb.handleUpdate(textUpdate(42, text))
		assert.False(t, ok, "%q must not reach the session", text)
	}

	msgs := bot.messages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[0].Text, "/status")
	assert.Contains(t, msgs[2].Text, "mud.pkuxkx.net:8081")
	assert.Contains(t, msgs[2].Text, "authenticated")
}

func TestTelegramIgnoresNonMessages(t *testing.T) {
	tb := newTelegramBridge(newMockBot(), []int64{42}, testStatus)

	_, ok := tb.handleUpdate(tgbotapi.Update{})
	assert.False(t, ok)
	_, ok = tb.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Text: "look"}})
	assert.False(t, ok)
}

func TestTelegramRunForwardsAndStreams(t *testing.T) {
	bot := newMockBot()
	tb := newTelegramBridge(bot, []int64{42}, testStatus)
	tb.settle = 20 * time.Millisecond
	tb.tick = 5 * time.Millisecond

	out := make(chan Command, 4)
	done := make(chan error, 1)
	go func() { done <- tb.Run(context.Background(), out) }()

	bot.updates <- textUpdate(42, "north")
	select {
	case cmd := <-out:
		assert.Equal(t, "north", cmd.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("command was not forwarded")
	}

	tb.SendOutput("\x1b[1;32mYou see <inn> & bar\x1b[0m\n")
	require.Eventually(t, func() bool {
		for _, m := range bot.messages() {
			if m.ParseMode == tgbotapi.ModeHTML {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	var pre tgbotapi.MessageConfig
	for _, m := range bot.messages() {
		if m.ParseMode == tgbotapi.ModeHTML {
			pre = m
		}
	}
	assert.Equal(t, int64(42), pre.ChatID)
	assert.Equal(t, "<pre>You see &lt;inn&gt; &amp; bar</pre>", pre.Text)

	close(bot.updates)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after updates closed")
	}

	tb.Close()
	tb.Close()
	assert.Equal(t, 1, bot.stopped)
}

func TestTelegramSendOutputNeverBlocks(t *testing.T) {
	tb := newTelegramBridge(newMockBot(), []int64{42}, testStatus)
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(tb.output)+10; i++ {
			tb.SendOutput("x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("SendOutput blocked")
	}
}

func TestSplitAtSafeBoundary(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
	}{
		{"short", "look", 100},
		{"ascii", strings.Repeat("a", 25), 10},
		{"entities", strings.Repeat("&amp;&lt;", 10), 12},
		{"multibyte", strings.Repeat("侠客行", 10), 10},
		{"mixed", strings.Repeat("北&gt;x", 20), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitAtSafeBoundary(tt.in, tt.maxLen)
			assert.Equal(t, tt.in, strings.Join(parts, ""))
			for _, p := range parts {
				assert.LessOrEqual(t, len(p), tt.maxLen)
				assert.True(t, utf8.ValidString(p), "part %q splits a character", p)
				if i := strings.LastIndexByte(p, '&'); i >= 0 {
					assert.Contains(t, p[i:], ";", "part %q splits an entity", p)
				}
			}
		})
	}
}
