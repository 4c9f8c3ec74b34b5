package main

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramAPI is the part of *tgbotapi.BotAPI the bridge uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

const (
	telegramMaxLen = 4000

	// Output is batched: sent once the session has been quiet for
	// telegramSettle, or every telegramForce while it keeps talking.
	telegramSettle = 1500 * time.Millisecond
	telegramForce  = 5 * time.Second
	telegramTick   = 200 * time.Millisecond
)

// TelegramBridge lets allowed Telegram users drive the session remotely.
// Their messages become commands; the session's display output is rendered
// through a ScreenReader and sent back to them as preformatted text.
type TelegramBridge struct {
	bot     telegramAPI
	allowed []int64
	status  func() SessionStatus

	output    chan string
	closeOnce sync.Once

	settle time.Duration
	force  time.Duration
	tick   time.Duration
}

// NewTelegramBridge logs in to the Bot API with token.
func NewTelegramBridge(token string, allowed []int64, status func() SessionStatus) (*TelegramBridge, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login failed: %w", err)
	}
	log.Printf("INFO: Telegram bot authorized as @%s", bot.Self.UserName)
	return newTelegramBridge(bot, allowed, status), nil
}

func newTelegramBridge(bot telegramAPI, allowed []int64, status func() SessionStatus) *TelegramBridge {
	return &TelegramBridge{
		bot:     bot,
		allowed: allowed,
		status:  status,
		output:  make(chan string, 256),
		settle:  telegramSettle,
		force:   telegramForce,
		tick:    telegramTick,
	}
}

// SendOutput queues display text. It never blocks the output pump: when the
// bridge falls behind, text is dropped.
func (tb *TelegramBridge) SendOutput(output string) {
	select {
	case tb.output <- output:
	default:
		debugf("telegram output queue full, dropping %d bytes", len(output))
	}
}

// Run forwards allowed users' messages to out until ctx is done or Close is
// called, and streams session output back to them meanwhile.
func (tb *TelegramBridge) Run(ctx context.Context, out chan<- Command) error {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tb.streamOutput(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := tb.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			cmd, ok := tb.handleUpdate(update)
			if !ok {
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close stops receiving updates. Safe to call more than once.
func (tb *TelegramBridge) Close() error {
	tb.closeOnce.Do(tb.bot.StopReceivingUpdates)
	return nil
}

// handleUpdate answers bot commands itself and returns anything else from
// an allowed user as a session command.
func (tb *TelegramBridge) handleUpdate(update tgbotapi.Update) (Command, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return Command{}, false
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID
	if !tb.isAllowed(userID) {
		log.Printf("WARN: Unauthorized Telegram user @%s (ID: %d)", msg.From.UserName, userID)
		tb.sendPlain(chatID, "Unauthorized")
		return Command{}, false
	}

	text := strings.TrimSpace(msg.Text)
	switch text {
	case "":
		return Command{}, false
	case "/start", "/help":
		tb.sendPlain(chatID, "Connected to the MUD session.\n\n"+
			"Send any text to forward it as a game command.\n"+
			"/status shows the connection\n"+
			"exit or quit stops the agent")
		return Command{}, false
	case "/status":
		tb.sendPlain(chatID, tb.status().String())
		return Command{}, false
	}

	log.Printf("INFO: Telegram @%s -> %s", msg.From.UserName, text)
	return Command{Text: text, Source: "telegram"}, true
}

func (tb *TelegramBridge) isAllowed(userID int64) bool {
	for _, id := range tb.allowed {
		if id == userID {
			return true
		}
	}
	return false
}

// streamOutput renders queued output into a virtual screen and sends what
// is new once the output settles.
func (tb *TelegramBridge) streamOutput(ctx context.Context) {
	screen := NewScreenReader(120, 100)

	ticker := time.NewTicker(tb.tick)
	defer ticker.Stop()

	hasNewData := false
	lastOutput := time.Now()
	lastSend := time.Now()
	lastScreen := ""

	flush := func() {
		current := screen.Screen()
		newContent := strings.TrimSpace(findNewContent(lastScreen, current))
		lastScreen = current
		if newContent == "" {
			return
		}
		for _, id := range tb.allowed {
			tb.sendPre(id, newContent)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if hasNewData {
				flush()
			}
			return

		case output := <-tb.output:
			screen.WriteString(output)
			hasNewData = true
			lastOutput = time.Now()

		case <-ticker.C:
			settled := hasNewData && time.Since(lastOutput) > tb.settle
			forceSend := hasNewData && time.Since(lastSend) > tb.force
			if settled || forceSend {
				flush()
				hasNewData = false
				lastSend = time.Now()
			}
		}
	}
}

// sendPlain sends a message without any parse mode.
func (tb *TelegramBridge) sendPlain(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := tb.bot.Send(msg); err != nil {
		log.Printf("ERROR: Failed to send Telegram message: %v", err)
	}
}

// sendPre sends text as monospace <pre> blocks, split to fit Telegram's
// message size limit.
func (tb *TelegramBridge) sendPre(chatID int64, text string) {
	escaped := html.EscapeString(text)
	rawMaxLen := telegramMaxLen - len("<pre></pre>")
	for _, chunk := range splitAtSafeBoundary(escaped, rawMaxLen) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		msg := tgbotapi.NewMessage(chatID, "<pre>"+chunk+"</pre>")
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := tb.bot.Send(msg); err != nil {
			log.Printf("ERROR: Failed to send Telegram output: %v", err)
		}
	}
}

// splitAtSafeBoundary splits HTML-escaped text into parts of at most maxLen
// bytes without cutting an entity (&amp;) or a UTF-8 character in half.
func splitAtSafeBoundary(s string, maxLen int) []string {
	var parts []string
	for len(s) > maxLen {
		end := maxLen
		for j := end - 1; j >= 0 && j >= end-10; j-- {
			if s[j] == ';' {
				break
			}
			if s[j] == '&' {
				end = j
				break
			}
		}
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		if end == 0 {
			end = maxLen
		}
		parts = append(parts, s[:end])
		s = s[end:]
	}
	if len(s) > 0 {
		parts = append(parts, s)
	}
	return parts
}
