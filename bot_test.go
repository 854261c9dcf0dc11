package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// fakeTransport records outgoing traffic instead of talking to WhatsApp.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage

	downloadData []byte
	downloadErr  error
	uploadErr    error
}

type sentMessage struct {
	chat types.JID
	msg  *waProto.Message
}

func (f *fakeTransport) SendMessage(ctx context.Context, to types.JID, message *waProto.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chat: to, msg: message})
	return whatsmeow.SendResponse{}, nil
}

func (f *fakeTransport) SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error {
	return nil
}

func (f *fakeTransport) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return f.downloadData, f.downloadErr
}

func (f *fakeTransport) Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	if f.uploadErr != nil {
		return whatsmeow.UploadResponse{}, f.uploadErr
	}
	return whatsmeow.UploadResponse{URL: "https://mmg.example.net/file", DirectPath: "/v/file"}, nil
}

func (f *fakeTransport) MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID, receiptTypeExtra ...types.ReceiptType) error {
	return nil
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		switch {
		case s.msg.GetConversation() != "":
			out = append(out, s.msg.GetConversation())
		case s.msg.GetExtendedTextMessage() != nil:
			out = append(out, s.msg.GetExtendedTextMessage().GetText())
		}
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestBot(t *testing.T, cfg *Config) (*Bot, *fakeTransport) {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "."
	}
	store, err := newStateStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	patterns, err := loadPatterns("")
	require.NoError(t, err)
	ft := &fakeTransport{}
	b := newBot(cfg, zerolog.Nop(), store, patterns, newAPIClient(cfg), ft)
	b.selfJID = types.NewJID("628111111111", types.DefaultUserServer)
	return b, ft
}

func textEvent(chat, sender types.JID, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    chat,
				Sender:  sender,
				IsGroup: chat.Server == types.GroupServer,
			},
			ID:        "TESTMSG1",
			Timestamp: time.Now(),
		},
		Message: &waProto.Message{Conversation: proto.String(text)},
	}
}

func dmJID(user string) types.JID {
	return types.NewJID(user, types.DefaultUserServer)
}

func groupJID(user string) types.JID {
	return types.NewJID(user, types.GroupServer)
}
