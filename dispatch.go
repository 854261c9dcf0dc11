package main

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

//////////////////////////////////////////////////////////////
// DISPATCH
//////////////////////////////////////////////////////////////

// transport is the slice of the WhatsApp client the bot actually uses.
// *whatsmeow.Client satisfies it; tests swap in a recorder.
type transport interface {
	SendMessage(ctx context.Context, to types.JID, message *waProto.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID, receiptTypeExtra ...types.ReceiptType) error
}

type Bot struct {
	cfg      *Config
	log      zerolog.Logger
	store    *stateStore
	patterns *patternSet
	api      *apiClient
	wa       transport
	registry map[string]command

	groupLookup groupLookupFunc
	selfJID     types.JID

	// loggedOut is closed when the session is remotely terminated, which
	// is the one disconnect the bot must not reconnect from.
	loggedOut chan struct{}
}

func newBot(cfg *Config, log zerolog.Logger, store *stateStore, patterns *patternSet, api *apiClient, wa transport) *Bot {
	return &Bot{
		cfg:       cfg,
		log:       log,
		store:     store,
		patterns:  patterns,
		api:       api,
		wa:        wa,
		registry:  defaultRegistry(),
		loggedOut: make(chan struct{}),
	}
}

// inboundMessage is the normalized view of one incoming message.
type inboundMessage struct {
	ID        types.MessageID
	Timestamp time.Time
	Chat      types.JID
	Sender    types.JID
	IsGroup   bool
	Text     string
	Media    *mediaRef
	Raw      *waProto.Message
	Quoted   *waProto.Message
	QuotedBy string

	MentionedBot bool
	ReplyToBot   bool
}

// contextInfoOf digs the ContextInfo out of whichever message type carries
// it.
func contextInfoOf(msg *waProto.Message) *waProto.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	}
	return nil
}

// textOf extracts the text payload: plain body, extended text, or a media
// caption.
func textOf(msg *waProto.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

// parseInbound normalizes an event into an inboundMessage, resolving whether
// the bot was mentioned or quoted. Returns nil for messages the bot never
// acts on.
func (b *Bot) parseInbound(evt *events.Message) *inboundMessage {
	if evt.Info.IsFromMe || evt.Info.Chat.User == "status" {
		return nil
	}
	msg := unwrapViewOnce(evt.Message)
	if msg == nil {
		return nil
	}

	m := &inboundMessage{
		ID:        evt.Info.ID,
		Timestamp: evt.Info.Timestamp,
		Chat:      evt.Info.Chat,
		Sender:    evt.Info.Sender,
		IsGroup:   evt.Info.IsGroup,
		Text:      textOf(msg),
		Media:     extractMedia(msg),
		Raw:       msg,
	}

	if ci := contextInfoOf(msg); ci != nil {
		m.Quoted = ci.GetQuotedMessage()
		m.QuotedBy = ci.GetParticipant()
		for _, j := range ci.GetMentionedJID() {
			if jidUser(j) == b.selfJID.User {
				m.MentionedBot = true
				break
			}
		}
		if m.Quoted != nil && jidUser(m.QuotedBy) == b.selfJID.User {
			m.ReplyToBot = true
		}
	}
	return m
}

func jidUser(raw string) string {
	jid, err := types.ParseJID(raw)
	if err != nil {
		return ""
	}
	return jid.User
}

// parseCommand splits text into a registry key and its arguments when text
// starts with the command prefix.
func parseCommand(text, prefix string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(text, prefix)
	if rest == "" || rest[0] == ' ' {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// shouldAutoReply decides whether a non-command message gets an autonomous
// reply. Media messages only qualify when the bot is explicitly addressed
// and the caption is non-empty; plain text additionally qualifies on first
// contact or when the chat opted in.
func shouldAutoReply(hasMedia bool, text string, first, enabled, mentioned, replyToBot bool) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if hasMedia {
		return mentioned || replyToBot
	}
	return first || enabled || mentioned || replyToBot
}

// handleEvent is the whatsmeow event callback.
func (b *Bot) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		b.handleMessage(v)
	case *events.Connected:
		b.log.Info().Msg("connected to whatsapp")
	case *events.Disconnected:
		b.log.Warn().Msg("disconnected, client will reconnect")
	case *events.LoggedOut:
		b.log.Error().Msg("session logged out remotely, shutting down")
		close(b.loggedOut)
	}
}

func (b *Bot) handleMessage(evt *events.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("chat", evt.Info.Chat.String()).Msg("recovered while handling message")
		}
	}()

	m := b.parseInbound(evt)
	if m == nil {
		return
	}
	if m.Text == "" && m.Media == nil {
		return
	}

	chatID := m.Chat.String()
	first := b.store.MarkSeen(chatID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if name, args, ok := parseCommand(m.Text, b.cfg.Prefix); ok {
		if cmd, known := b.registry[name]; known {
			b.runCommand(ctx, name, cmd, args, m)
			return
		}
		// Unknown prefixed text falls through to the reply path.
	}

	if m.IsGroup {
		if err := b.wa.MarkRead(ctx, []types.MessageID{m.ID}, m.Timestamp, m.Chat, m.Sender); err != nil {
			b.log.Debug().Err(err).Msg("mark read failed")
		}
	}

	if shouldAutoReply(m.Media != nil, m.Text, first, b.store.AutoReply(chatID), m.MentionedBot, m.ReplyToBot) {
		b.autonomousReply(ctx, m, first)
	}
}

func (b *Bot) runCommand(ctx context.Context, name string, cmd command, args string, m *inboundMessage) {
	level := b.store.PermissionLevel(name, cmd.level)
	if !checkPermission(ctx, level, m.Chat, m.Sender, b.cfg.AdminNumbers, b.groupLookup) {
		b.log.Info().Str("command", name).Str("sender", m.Sender.User).Msg("command denied")
		b.replyText(ctx, m, permissionDeniedText)
		return
	}
	b.log.Info().Str("command", name).Str("chat", m.Chat.String()).Msg("running command")
	if err := cmd.run(ctx, b, m, args); err != nil {
		b.log.Error().Err(err).Str("command", name).Msg("command failed")
		b.replyText(ctx, m, apologyFor(err))
	}
}

// replyText sends text quoting the triggering message, the way a human reply
// looks in the chat.
func (b *Bot) replyText(ctx context.Context, m *inboundMessage, text string) {
	msg := &waProto.Message{
		ExtendedTextMessage: &waProto.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waProto.ContextInfo{
				StanzaID:      proto.String(string(m.ID)),
				Participant:   proto.String(m.Sender.String()),
				QuotedMessage: m.Raw,
			},
		},
	}
	if _, err := b.wa.SendMessage(ctx, m.Chat, msg); err != nil {
		b.log.Error().Err(err).Str("chat", m.Chat.String()).Msg("failed to send reply")
	}
}

func (b *Bot) sendMessage(ctx context.Context, chat types.JID, msg *waProto.Message) {
	if _, err := b.wa.SendMessage(ctx, chat, msg); err != nil {
		b.log.Error().Err(err).Str("chat", chat.String()).Msg("failed to send message")
	}
}
