package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"google.golang.org/protobuf/proto"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		name     string
		args     string
		ok       bool
	}{
		{".reset", "reset", "", true},
		{".pet on", "pet", "on", true},
		{".PET On Bicara", "pet", "On Bicara", true},
		{"  .tiktok https://vt.tiktok.com/xyz  ", "tiktok", "https://vt.tiktok.com/xyz", true},
		{"reset", "", "", false},
		{". reset", "", "", false},
		{".", "", "", false},
		{"halo .reset", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.in, ".")
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
}

func TestShouldAutoReply(t *testing.T) {
	tests := []struct {
		name                                 string
		hasMedia                             bool
		text                                 string
		first, enabled, mentioned, replyToBot bool
		want                                 bool
	}{
		{"first contact text", false, "halo", true, false, false, false, true},
		{"enabled chat", false, "halo", false, true, false, false, true},
		{"mention", false, "halo", false, false, true, false, true},
		{"reply to bot", false, "halo", false, false, false, true, true},
		{"nothing applies", false, "halo", false, false, false, false, false},
		{"empty text never replies", false, "   ", true, true, true, true, false},
		{"media with mention and caption", true, "apa ini", false, false, true, false, true},
		{"media reply to bot with caption", true, "apa ini", false, false, false, true, true},
		{"media enabled chat is not enough", true, "apa ini", false, true, false, false, false},
		{"media first contact is not enough", true, "apa ini", true, false, false, false, false},
		{"media mention without caption", true, "", false, false, true, false, false},
	}
	for _, tt := range tests {
		got := shouldAutoReply(tt.hasMedia, tt.text, tt.first, tt.enabled, tt.mentioned, tt.replyToBot)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestTextOfExtractsCaptions(t *testing.T) {
	assert.Equal(t, "plain", textOf(&waProto.Message{Conversation: proto.String("plain")}))
	assert.Equal(t, "ext", textOf(&waProto.Message{
		ExtendedTextMessage: &waProto.ExtendedTextMessage{Text: proto.String("ext")},
	}))
	assert.Equal(t, "cap", textOf(&waProto.Message{
		ImageMessage: &waProto.ImageMessage{Caption: proto.String("cap")},
	}))
	assert.Equal(t, "vcap", textOf(&waProto.Message{
		VideoMessage: &waProto.VideoMessage{Caption: proto.String("vcap")},
	}))
	assert.Equal(t, "", textOf(&waProto.Message{
		AudioMessage: &waProto.AudioMessage{},
	}))
}

func TestUnwrapViewOnce(t *testing.T) {
	inner := &waProto.Message{ImageMessage: &waProto.ImageMessage{Caption: proto.String("hidden")}}
	wrapped := &waProto.Message{ViewOnceMessageV2: &waProto.FutureProofMessage{Message: inner}}

	got := unwrapViewOnce(wrapped)
	require.NotNil(t, got.GetImageMessage())
	assert.Equal(t, "hidden", got.GetImageMessage().GetCaption())

	plain := &waProto.Message{Conversation: proto.String("x")}
	assert.Same(t, plain, unwrapViewOnce(plain))
}

func TestHandleMessageIgnoresOwnAndStatus(t *testing.T) {
	b, ft := newTestBot(t, nil)

	own := textEvent(dmJID("628222"), b.selfJID, "halo")
	own.Info.IsFromMe = true
	b.handleMessage(own)

	status := textEvent(dmJID("status"), dmJID("628222"), "halo")
	b.handleMessage(status)

	assert.Zero(t, ft.count())
}

func TestHandleMessageFirstContactIntro(t *testing.T) {
	var seenBeforeCall bool
	var storeDir string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The first-contact flag must be on disk before the bot talks to
		// any external service.
		_, err := os.Stat(filepath.Join(storeDir, FIRST_TIME_FILE))
		seenBeforeCall = err == nil
		assert.Equal(t, INTRO_PROMPT, r.URL.Query().Get("ask"))
		assert.NotEmpty(t, r.URL.Query().Get("sessionId"))
		w.Write([]byte(`{"status":200,"result":"halo, gua Elz AI"}`))
	}))
	defer srv.Close()

	b, ft := newTestBot(t, &Config{CompletionURL: srv.URL})
	storeDir = b.store.dir

	b.handleMessage(textEvent(dmJID("628222"), dmJID("628222"), "woi"))

	require.Equal(t, 1, ft.count())
	assert.True(t, seenBeforeCall)
	assert.Equal(t, []string{"halo, gua Elz AI"}, ft.texts())
}

func TestHandleMessageSecondContactStaysQuiet(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"status":200,"result":"ok"}`))
	}))
	defer srv.Close()

	b, ft := newTestBot(t, &Config{CompletionURL: srv.URL})
	chat := dmJID("628222")

	b.handleMessage(textEvent(chat, chat, "pertama"))
	b.handleMessage(textEvent(chat, chat, "kedua"))

	// Only the first message qualifies; the chat never opted in.
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, ft.count())
}

func TestHandleMessageCommandNeverHitsCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("completion must not be called for a command")
	}))
	defer srv.Close()

	b, ft := newTestBot(t, &Config{CompletionURL: srv.URL})
	chat := dmJID("628222")
	b.store.MarkSeen(chat.String()) // not first contact

	b.handleMessage(textEvent(chat, chat, ".pet on"))

	require.Equal(t, []string{"elz ai mode udah diaktifin nih!"}, ft.texts())
	assert.True(t, b.store.AutoReply(chat.String()))
}

func TestHandleMessageEnabledChatReplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":200,"result":"gas"}`))
	}))
	defer srv.Close()

	b, ft := newTestBot(t, &Config{CompletionURL: srv.URL})
	chat := dmJID("628222")
	b.store.MarkSeen(chat.String())
	b.store.SetAutoReply(chat.String(), true)

	b.handleMessage(textEvent(chat, chat, "lanjut dong"))

	assert.Equal(t, []string{"gas"}, ft.texts())
}

func TestHandleMessageHTTPErrorApology(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, ft := newTestBot(t, &Config{CompletionURL: srv.URL})
	chat := dmJID("628222")

	b.handleMessage(textEvent(chat, chat, "halo"))

	assert.Equal(t, []string{"api error (500): ada masalah di server gua nih."}, ft.texts())
}

func TestHandleMessageDeniedCommand(t *testing.T) {
	b, ft := newTestBot(t, &Config{AdminNumbers: []string{"628999999999"}})
	chat := dmJID("628222")

	b.handleMessage(textEvent(chat, chat, ".rvo"))

	assert.Equal(t, []string{permissionDeniedText}, ft.texts())
}

func TestHandleMessageMediaWithoutCaptionIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("completion must not be called")
	}))
	defer srv.Close()

	b, ft := newTestBot(t, &Config{CompletionURL: srv.URL})
	chat := dmJID("628222")
	b.store.MarkSeen(chat.String())

	evt := textEvent(chat, chat, "")
	evt.Message = &waProto.Message{ImageMessage: &waProto.ImageMessage{
		Mimetype: proto.String("image/jpeg"),
		ContextInfo: &waProto.ContextInfo{
			MentionedJID: []string{b.selfJID.String()},
		},
	}}
	b.handleMessage(evt)

	assert.Zero(t, ft.count())
}

func TestParseInboundDetectsMentionAndReply(t *testing.T) {
	b, _ := newTestBot(t, nil)
	chat := groupJID("12036300000000")
	sender := dmJID("628222")

	evt := textEvent(chat, sender, "")
	evt.Message = &waProto.Message{ExtendedTextMessage: &waProto.ExtendedTextMessage{
		Text: proto.String("bener ga nih"),
		ContextInfo: &waProto.ContextInfo{
			MentionedJID:  []string{b.selfJID.String()},
			Participant:   proto.String(b.selfJID.String()),
			StanzaID:      proto.String("PREV1"),
			QuotedMessage: &waProto.Message{Conversation: proto.String("iya")},
		},
	}}

	m := b.parseInbound(evt)
	require.NotNil(t, m)
	assert.True(t, m.MentionedBot)
	assert.True(t, m.ReplyToBot)
	assert.Equal(t, "bener ga nih", m.Text)
}
