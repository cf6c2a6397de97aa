// Package discord implements the Transport contract over the Discord
// gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Config is the subset of the discord configuration block this transport
// consumes.
type Config struct {
	Token     string
	AllowFrom []string
}

// Transport is a Transport/ProcessingMessageTransport implementation
// backed by a Discord gateway session.
type Transport struct {
	cfg       Config
	session   *discordgo.Session
	onText    func(sourceID, text, threadID string)
	allowed   map[string]struct{}
	botUserID string
}

// New creates a Discord transport. onText is invoked for every admitted
// inbound text message.
func New(cfg Config, onText func(sourceID, text, threadID string)) (*Transport, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	allowed := make(map[string]struct{}, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allowed[id] = struct{}{}
	}

	return &Transport{cfg: cfg, session: session, onText: onText, allowed: allowed}, nil
}

func (t *Transport) Name() string { return "discord" }

func (t *Transport) admitted(channelID string) bool {
	if len(t.allowed) == 0 {
		return true
	}
	_, ok := t.allowed[channelID]
	return ok
}

func (t *Transport) Start(_ context.Context) error {
	t.session.AddHandler(t.handleMessageCreate)

	if err := t.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	user, err := t.session.User("@me")
	if err != nil {
		t.session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	t.botUserID = user.ID
	slog.Info("discord transport connected", "username", user.Username, "id", user.ID)

	return nil
}

func (t *Transport) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == t.botUserID || m.Content == "" {
		return
	}
	if !t.admitted(m.ChannelID) {
		slog.Debug("discord message from non-allowed channel dropped", "channel_id", m.ChannelID)
		return
	}
	t.onText(m.ChannelID, m.Content, "")
}

func (t *Transport) Stop(_ context.Context) error {
	return t.session.Close()
}

func (t *Transport) SendResponse(sourceID, text string) error {
	_, err := t.session.ChannelMessageSend(sourceID, text)
	return err
}

// CreateProcessingMessage posts a placeholder message and returns its
// Discord message ID for later UpdateProcessingMessage calls.
func (t *Transport) CreateProcessingMessage(sourceID, text string) (string, error) {
	sent, err := t.session.ChannelMessageSend(sourceID, text)
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

// UpdateProcessingMessage edits the placeholder message in place.
func (t *Transport) UpdateProcessingMessage(sourceID, messageID, text string) error {
	_, err := t.session.ChannelMessageEdit(sourceID, messageID, text)
	return err
}
