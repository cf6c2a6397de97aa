// Package telegram implements the Transport contract over the Telegram Bot
// API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Config is the subset of the telegram configuration block this transport
// consumes.
type Config struct {
	Token     string
	Proxy     string
	AllowFrom []string
}

// Transport is a Transport/ProcessingMessageTransport implementation
// backed by a long-polling Telegram bot.
type Transport struct {
	cfg     Config
	bot     *telego.Bot
	onText  func(sourceID, text string, threadID string)
	allowed map[string]struct{}

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram transport. onText is invoked for every admitted
// inbound text message.
func New(cfg Config, onText func(sourceID, text, threadID string)) (*Transport, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("telegram: invalid proxy url %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	allowed := make(map[string]struct{}, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allowed[id] = struct{}{}
	}

	return &Transport{cfg: cfg, bot: bot, onText: onText, allowed: allowed}, nil
}

func (t *Transport) Name() string { return "telegram" }

func (t *Transport) admitted(chatID string) bool {
	if len(t.allowed) == 0 {
		return true
	}
	_, ok := t.allowed[chatID]
	return ok
}

func (t *Transport) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	t.pollCancel = cancel
	t.pollDone = make(chan struct{})

	updates, err := t.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	slog.Info("telegram transport connected", "username", t.bot.Username())

	go func() {
		defer close(t.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(pollCtx, update)
			}
		}
	}()

	return nil
}

func (t *Transport) handleUpdate(ctx context.Context, update telego.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if !t.admitted(chatID) {
		slog.Debug("telegram message from non-allowed chat dropped", "chat_id", chatID)
		return
	}
	threadID := ""
	if msg.Chat.IsForum && msg.MessageThreadID != 0 {
		threadID = strconv.Itoa(msg.MessageThreadID)
	}
	t.onText(chatID, msg.Text, threadID)
}

func (t *Transport) Stop(_ context.Context) error {
	if t.pollCancel != nil {
		t.pollCancel()
	}
	if t.pollDone != nil {
		select {
		case <-t.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (t *Transport) SendResponse(sourceID, text string) error {
	chatID, err := strconv.ParseInt(sourceID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", sourceID, err)
	}
	_, err = t.bot.SendMessage(context.Background(), tu.Message(tu.ID(chatID), text))
	return err
}

// CreateProcessingMessage posts a new message and returns its Telegram
// message ID (as a string) for later UpdateProcessingMessage calls.
func (t *Transport) CreateProcessingMessage(sourceID, text string) (string, error) {
	chatID, err := strconv.ParseInt(sourceID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat id %q: %w", sourceID, err)
	}
	sent, err := t.bot.SendMessage(context.Background(), tu.Message(tu.ID(chatID), text))
	if err != nil {
		return "", err
	}
	id := strconv.Itoa(sent.MessageID)
	return id, nil
}

// UpdateProcessingMessage edits the placeholder message in place.
func (t *Transport) UpdateProcessingMessage(sourceID, messageID, text string) error {
	chatID, err := strconv.ParseInt(sourceID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", sourceID, err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", messageID, err)
	}
	_, err = t.bot.EditMessageText(context.Background(), &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: msgID,
		Text:      text,
	})
	return err
}
