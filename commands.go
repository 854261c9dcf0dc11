package main

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

//////////////////////////////////////////////////////////////
// COMMANDS
//////////////////////////////////////////////////////////////

const permissionDeniedText = "lu ga punya akses buat pake fitur ini cuk!"

// command is one registry entry: the default permission level (the store
// can override it at runtime via .rubah) and the handler.
type command struct {
	level string
	run   func(ctx context.Context, b *Bot, m *inboundMessage, args string) error
}

func defaultRegistry() map[string]command {
	return map[string]command{
		"reset":  {LEVEL_ALL, cmdReset},
		"pet":    {LEVEL_ALL, cmdPet},
		"rvo":    {LEVEL_ADMIN, cmdRVO},
		"terus":  {LEVEL_ALL, cmdTerus},
		"iklan":  {LEVEL_ALL, cmdIklan},
		"buat":   {LEVEL_ALL, cmdBuat},
		"cek":    {LEVEL_ALL, cmdCek},
		"uy":     {LEVEL_ALL, cmdUy},
		"chord":  {LEVEL_ALL, cmdChord},
		"p":      {LEVEL_ALL, cmdBank},
		"libur":  {LEVEL_ALL, cmdLibur},
		"tiktok": {LEVEL_ALL, cmdTikTok},
		"ig":     {LEVEL_ALL, cmdIG},
		"rubah":  {LEVEL_ADMIN, cmdRubah},
	}
}

func (b *Bot) composing(ctx context.Context, chat types.JID) {
	if err := b.wa.SendChatPresence(ctx, chat, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		b.log.Debug().Err(err).Msg("presence update failed")
	}
}

func (b *Bot) paused(ctx context.Context, chat types.JID) {
	if err := b.wa.SendChatPresence(ctx, chat, types.ChatPresencePaused, types.ChatPresenceMediaText); err != nil {
		b.log.Debug().Err(err).Msg("presence update failed")
	}
}

// cmdReset rotates the chat's session token. Chats without a session get no
// reply, matching the no-op.
func cmdReset(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	if _, ok := b.store.ResetSession(m.Chat.String()); ok {
		b.replyText(ctx, m, "session telah direset cuy!")
	}
	return nil
}

// cmdPet toggles the auto-reply and voice modes for the chat.
func cmdPet(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	chatID := m.Chat.String()
	switch strings.ToLower(args) {
	case "on":
		b.store.SetAutoReply(chatID, true)
		b.replyText(ctx, m, "elz ai mode udah diaktifin nih!")
	case "off":
		b.store.SetAutoReply(chatID, false)
		b.replyText(ctx, m, "elz ai mode udah dimatiin nih!")
	case "on bicara":
		b.store.SetVoice(chatID, true)
		b.replyText(ctx, m, "elz ai mode dengan suara udah diaktifin nih! gua bakal jawab pake voice notes!")
	case "off bicara":
		b.store.SetVoice(chatID, false)
		b.replyText(ctx, m, "elz ai mode dengan suara udah dimatiin nih! gua bakal jawab pake teks seperti biasa!")
	}
	return nil
}

// cmdRVO re-sends the media from a quoted message under the bot's own keys,
// defeating the view-once flag.
func cmdRVO(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	if m.Quoted == nil {
		b.replyText(ctx, m, "formatnya salah cuy! pake: .rvo (reply ke media)")
		return nil
	}
	ref := extractMedia(m.Quoted)
	if ref == nil {
		b.replyText(ctx, m, "media ga kedeteksi nih, lu harus reply ke pesan yang ada medianya (gambar/video/audio/dokumen/stiker)")
		return nil
	}

	fileName := ref.fileName
	if fileName == "" {
		ext := "bin"
		if _, sub, ok := strings.Cut(ref.mimetype, "/"); ok {
			ext, _, _ = strings.Cut(sub, ";")
		}
		fileName = fmt.Sprintf("%d.%s", time.Now().UnixMilli(), ext)
	}

	switch ref.kind {
	case "image", "video":
		if ref.caption != "" {
			ref.caption = ref.caption + "\n\n---\nnih etmin gua simpan sebagai : " + fileName
		} else {
			ref.caption = "nih etmin gua berhasil di-remote view, gua simpan sebagai : " + fileName
		}
	}

	out, err := reuploadMedia(ctx, b.wa, ref)
	if err != nil {
		b.log.Error().Err(err).Msg("rvo reupload failed")
		b.replyText(ctx, m, "ada error pas proses media nih, coba lagi deh")
		return nil
	}
	b.sendMessage(ctx, m.Chat, out)

	switch ref.kind {
	case "audio":
		b.replyText(ctx, m, "media berhasil di-remote view. gua simpan sebagai: "+fileName)
	case "sticker":
		b.replyText(ctx, m, "stiker berhasil di-remote view. gua simpan sebagai: "+fileName)
	case "document":
		b.replyText(ctx, m, "dokumen berhasil di-remote view ni gua simpan sebagai : "+fileName)
	}
	return nil
}

// cmdTerus re-sends a quoted message dressed up as "forwarded many times".
func cmdTerus(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	if m.Quoted == nil {
		b.replyText(ctx, m, `lu harus reply ke pesan yang mau dibuat terlihat "diteruskan berkali-kali"! format: .terus`)
		return nil
	}

	b.composing(ctx, m.Chat)
	b.replyText(ctx, m, `bentar ya, gua lagi bikin pesan ini jadi terlihat "diteruskan berkali-kali"...`)
	b.paused(ctx, m.Chat)

	if text := textOf(m.Quoted); text != "" && extractMedia(m.Quoted) == nil {
		out := &waProto.Message{ExtendedTextMessage: &waProto.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: forwardedContextInfo(),
		}}
		b.sendMessage(ctx, m.Chat, out)
		return nil
	}

	ref := extractMedia(m.Quoted)
	if ref == nil {
		b.replyText(ctx, m, "maaf, tipe pesan ini ga bisa dibuat jadi forwarded. coba reply ke pesan teks, gambar, video, audio, dokumen, atau stiker!")
		return nil
	}
	out, err := reuploadMedia(ctx, b.wa, ref)
	if err != nil {
		b.log.Error().Err(err).Msg("terus reupload failed")
		b.replyText(ctx, m, "gagal bikin pesan forwarded nih, ada error pas proses medianya!")
		return nil
	}
	setContextInfo(out, forwardedContextInfo())
	b.sendMessage(ctx, m.Chat, out)
	return nil
}

// cmdIklan re-sends a quoted message styled as a verified business ad from a
// random well-known brand.
func cmdIklan(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	if m.Quoted == nil {
		b.replyText(ctx, m, "lu harus reply ke pesan yang mau dijadiin iklan bisnis resmi! format: .iklan")
		return nil
	}

	ref := extractMedia(m.Quoted)
	text := textOf(m.Quoted)
	if text == "" && (ref == nil || (ref.kind != "image" && ref.kind != "video")) {
		b.replyText(ctx, m, "maaf, tipe pesan ini ga bisa dijadiin iklan bisnis. coba reply ke pesan teks, gambar, atau video!")
		return nil
	}

	b.composing(ctx, m.Chat)

	brand := adBrands[rand.Intn(len(adBrands))]
	score := uint32(rand.Intn(500) + 100)
	body := text
	if body == "" {
		body = "[Konten Promosi]"
	}
	adText := fmt.Sprintf("🎯 SPONSORED POST\n\n%s\n\n📊 Dipromosikan oleh %s\n\nPelajari lebih lanjut >", body, brand.name)

	b.paused(ctx, m.Chat)

	if ref != nil && (ref.kind == "image" || ref.kind == "video") {
		ref.caption = adText
		out, err := reuploadMedia(ctx, b.wa, ref)
		if err != nil {
			b.log.Error().Err(err).Msg("iklan reupload failed")
			b.replyText(ctx, m, "gagal bikin pesan business ads nih, ada error pas proses metadata!")
			return nil
		}
		setContextInfo(out, businessContextInfo(brand, score))
		b.sendMessage(ctx, m.Chat, out)
		return nil
	}

	out := &waProto.Message{ExtendedTextMessage: &waProto.ExtendedTextMessage{
		Text:        proto.String(adText),
		ContextInfo: businessContextInfo(brand, score),
	}}
	b.sendMessage(ctx, m.Chat, out)
	return nil
}

var validImageSizes = map[string]bool{
	"1_1": true, "16_9": true, "2_3": true, "3_2": true, "4_5": true,
	"5_4": true, "9_16": true, "21_9": true, "9_21": true,
}

// cmdBuat generates an image from a prompt. An optional trailing token picks
// the aspect ratio.
func cmdBuat(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	if args == "" {
		b.replyText(ctx, m, "lu mesti kasih prompt untuk gambarnya! formatnya: .buat <deskripsi gambar> <ukuran>")
		return nil
	}
	prompt, size := args, "1_1"
	fields := strings.Fields(args)
	if last := fields[len(fields)-1]; validImageSizes[last] {
		size = last
		prompt = strings.TrimSpace(strings.Join(fields[:len(fields)-1], " "))
	}
	if prompt == "" {
		b.replyText(ctx, m, "lu mesti kasih prompt untuk gambarnya! formatnya: .buat <deskripsi gambar> <ukuran>")
		return nil
	}

	b.composing(ctx, m.Chat)
	data, err := b.api.GenerateImage(ctx, prompt, size)
	b.paused(ctx, m.Chat)
	if err != nil {
		b.log.Error().Err(err).Msg("image generation failed")
		b.replyText(ctx, m, "gua gagal bikin gambarnya nih, coba lagi ntar atau ganti promptnya ya!")
		return nil
	}
	up, err := b.wa.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload generated image: %w", err)
	}
	b.sendMessage(ctx, m.Chat, buildImageFromBytes(up, "image/jpeg", "nih hasil gambar bro!", len(data)))
	return nil
}

// imageForAnalysis picks the image out of the command message itself or the
// quoted message, downloads it, and rehosts it for the analysis APIs.
func (b *Bot) imageForAnalysis(ctx context.Context, m *inboundMessage) ([]byte, string, bool) {
	ref := m.Media
	if ref == nil || ref.kind != "image" {
		if m.Quoted != nil {
			ref = extractMedia(m.Quoted)
		}
	}
	if ref == nil || ref.kind != "image" {
		return nil, "", false
	}
	data, err := b.wa.Download(ctx, ref.dl)
	if err != nil {
		b.log.Error().Err(err).Msg("image download failed")
		return nil, "", false
	}
	ext := "jpg"
	if _, sub, ok := strings.Cut(ref.mimetype, "/"); ok {
		ext, _, _ = strings.Cut(sub, ";")
	}
	url, err := b.api.UploadFile(ctx, fmt.Sprintf("img_%d.%s", time.Now().UnixMilli(), ext), data)
	if err != nil {
		b.log.Error().Err(err).Msg("image rehost failed")
		return nil, "", false
	}
	return data, url, true
}

func (b *Bot) sendImageWithCaption(ctx context.Context, chat types.JID, data []byte, caption string) error {
	up, err := b.wa.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	b.sendMessage(ctx, chat, buildImageFromBytes(up, "image/jpeg", caption, len(data)))
	return nil
}

// cmdCek runs the fake-image detector on a sent or quoted image.
func cmdCek(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	b.composing(ctx, m.Chat)
	data, url, ok := b.imageForAnalysis(ctx, m)
	if !ok {
		b.paused(ctx, m.Chat)
		b.replyText(ctx, m, "lu harus kirim gambar dengan caption .cek atau reply ke gambar pake .cek")
		return nil
	}
	answer, err := b.api.FakeImageCheck(ctx, url)
	b.paused(ctx, m.Chat)
	if err != nil {
		b.log.Error().Err(err).Msg("fake image check failed")
		b.replyText(ctx, m, "gua gabisa ngecek gambar ini nih, ada error. coba lagi ntar ya!")
		return nil
	}
	var verdict string
	if strings.Contains(answer, "Computer Generated") {
		verdict = "❌ kemungkinan gambar ini AI GENERATED atau PALSU/EDITED! ❌\n\nhasilnya: " + answer
	} else {
		verdict = "✅ kemungkinan besar gambar ini ASLI! ✅\n\nhasilnya: " + answer
	}
	return b.sendImageWithCaption(ctx, m.Chat, data, verdict)
}

// cmdUy runs the face scanner on a sent or quoted image.
func cmdUy(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	b.composing(ctx, m.Chat)
	data, url, ok := b.imageForAnalysis(ctx, m)
	if !ok {
		b.paused(ctx, m.Chat)
		b.replyText(ctx, m, "lu harus kirim gambar dengan caption .uy atau reply ke gambar pake .uy")
		return nil
	}
	res, err := b.api.FaceScan(ctx, url)
	b.paused(ctx, m.Chat)
	if err != nil {
		b.log.Error().Err(err).Msg("face scan failed")
		b.replyText(ctx, m, "gua gagal scan wajah di gambar ini nih. pastiin ada wajah yang jelas ya, atau coba lagi ntar!")
		return nil
	}
	caption := fmt.Sprintf("📊 HASIL SCAN WAJAH 📊\n\n👤 Jenis Kelamin: %s\n🎂 Perkiraan Umur: %s\n😶 Ekspresi: %s\n🔷 Bentuk Wajah: %s\n✨ Beauty Score: %s/100",
		res.Gender, res.Age, res.Expression, res.FaceShape, res.BeautyScore)
	return b.sendImageWithCaption(ctx, m.Chat, data, caption)
}

var chordURLRe = regexp.MustCompile(`(?m)http://app\.chordindonesia\.com/chord-.*$`)

// cmdChord looks up guitar chords for a song.
func cmdChord(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	if args == "" {
		b.replyText(ctx, m, "lu mesti kasih judul lagu ya! formatnya: .chord <judul lagu>")
		return nil
	}
	b.composing(ctx, m.Chat)
	title, chord, err := b.api.Chord(ctx, args)
	b.paused(ctx, m.Chat)
	if err != nil {
		b.log.Error().Err(err).Msg("chord lookup failed")
		b.replyText(ctx, m, "gua gabisa nemuin chord lagu itu nih. coba lagu lain atau pastiin judul lagunya bener ya!")
		return nil
	}
	title = strings.ReplaceAll(title, "&#8211;", "-")
	chord = strings.TrimSpace(chordURLRe.ReplaceAllString(chord, ""))
	b.replyText(ctx, m, fmt.Sprintf("🎸 CHORD: %s 🎸\n\n%s", title, chord))
	return nil
}

// cmdBank resolves a bank account or e-wallet number to its holder name.
func cmdBank(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		b.replyText(ctx, m, "formatnya salah cuy! pake: .p <nomor/rekening> <bank/ewallet>")
		return nil
	}
	b.composing(ctx, m.Chat)
	info, err := b.api.BankLookup(ctx, fields[0], strings.ToLower(fields[1]))
	b.paused(ctx, m.Chat)
	if err != nil {
		b.log.Error().Err(err).Msg("bank lookup failed")
		b.replyText(ctx, m, "gua gabisa nemuin info rekening/akun itu nih. coba cek lagi nomor & bank/e-wallet nya ya!")
		return nil
	}
	name := info.Name
	if name == "" {
		name = "Tidak ditemukan"
	}
	b.replyText(ctx, m, fmt.Sprintf("💳 INFORMASI REKENING/ACCOUNT 💳\n\n📝 Nomor: %s\n👤 Nama: %s\n🏦 Bank/E-Wallet: %s",
		info.AccountNumber, name, strings.ToUpper(info.BankCode)))
	return nil
}

var yearRe = regexp.MustCompile(`^\d{4}$`)

// cmdLibur lists national holidays for a year, chunking long responses.
func cmdLibur(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	year := strings.TrimSpace(args)
	if year == "" {
		year = strconv.Itoa(time.Now().Year())
	}
	if !yearRe.MatchString(year) {
		b.replyText(ctx, m, "formatnya salah cuy! pake: .libur <tahun dalam 4 digit>")
		return nil
	}
	y, _ := strconv.Atoi(year)

	b.composing(ctx, m.Chat)
	holidays, err := b.api.Holidays(ctx, y)
	b.paused(ctx, m.Chat)
	if err != nil {
		b.log.Error().Err(err).Msg("holiday lookup failed")
		b.replyText(ctx, m, "gua gagal dapetin info hari libur nih. coba lagi ntar ya!")
		return nil
	}
	if len(holidays) == 0 {
		b.replyText(ctx, m, fmt.Sprintf("gua gabisa nemuin info hari libur untuk tahun %s nih.", year))
		return nil
	}

	msg := fmt.Sprintf("📅 HARI LIBUR NASIONAL TAHUN %s 📅\n\n", year)
	for i, h := range holidays {
		msg += fmt.Sprintf("%d. %s (%s)\n   %s\n\n", i+1, h.Date, h.Day, h.Name)
		if len(msg) > 3500 || i == len(holidays)-1 {
			b.replyText(ctx, m, msg)
			msg = fmt.Sprintf("📅 HARI LIBUR NASIONAL TAHUN %s (lanjutan) 📅\n\n", year)
		}
	}
	return nil
}

var tiktokURLRe = regexp.MustCompile(`(?i)https?://(www\.)?(tiktok\.com|vm\.tiktok\.com|vt\.tiktok\.com)/[a-zA-Z0-9._/?=&]+`)

// cmdTikTok downloads a TikTok video and sends it back with its metadata.
func cmdTikTok(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	link := strings.TrimSpace(args)
	if link == "" || !tiktokURLRe.MatchString(link) {
		b.replyText(ctx, m, "URL TikTok nya ga valid cuy! format: .tiktok <url>")
		return nil
	}

	b.composing(ctx, m.Chat)
	b.replyText(ctx, m, "bentar ya, gua lagi download video TikTok nya...")

	res, err := b.api.TikTok(ctx, link)
	if err == nil {
		var data []byte
		data, err = b.api.DownloadURL(ctx, res.Media.VideoURL)
		if err == nil {
			var up whatsmeow.UploadResponse
			up, err = b.wa.Upload(ctx, data, whatsmeow.MediaVideo)
			if err == nil {
				caption := fmt.Sprintf("*TIKTOK DOWNLOADER*\n\n📝 *Judul:* %s\n👤 *Creator:* %s\n⏱️ *Durasi:* %d detik\n👁️ *Views:* %d\n❤️ *Likes:* %d\n💬 *Comments:* %d\n🔄 *Shares:* %d\n\n🎵 *Sound:* %s - %s",
					res.Title, res.Author, res.Duration, res.PlayCount, res.Likes, res.Comments, res.Shares,
					res.OriginalSound.Title, res.OriginalSound.Author)
				b.paused(ctx, m.Chat)
				b.sendMessage(ctx, m.Chat, buildVideoFromBytes(up, caption, len(data)))
				return nil
			}
		}
	}
	b.log.Error().Err(err).Msg("tiktok download failed")
	b.paused(ctx, m.Chat)
	b.replyText(ctx, m, "gua gagal download TikTok nya nih, coba cek URL nya atau coba lagi ntar ya!")
	return nil
}

var igURLRe = regexp.MustCompile(`(?i)https?://(www\.)?(instagram\.com|instagr\.am|ig\.me)/[a-zA-Z0-9._/?=&]+`)

// cmdIG downloads Instagram media, handling carousels item by item.
func cmdIG(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	link := strings.TrimSpace(args)
	if link == "" || !igURLRe.MatchString(link) {
		b.replyText(ctx, m, "URL Instagram nya ga valid cuy! format: .ig <url>")
		return nil
	}

	b.composing(ctx, m.Chat)
	b.replyText(ctx, m, "bentar ya, gua lagi download konten Instagram nya...")

	items, err := b.api.Instagram(ctx, link)
	b.paused(ctx, m.Chat)
	if err != nil {
		b.log.Error().Err(err).Msg("instagram lookup failed")
		b.replyText(ctx, m, "gua gagal download konten Instagram nya nih, coba cek URL nya atau coba lagi ntar ya!")
		return nil
	}

	for i, item := range items {
		caption := "Instagram Download"
		if len(items) > 1 {
			caption = fmt.Sprintf("Instagram Download (%d/%d)", i+1, len(items))
		}
		data, err := b.api.DownloadURL(ctx, item.URL)
		if err != nil {
			b.log.Error().Err(err).Int("item", i+1).Msg("instagram media download failed")
			b.replyText(ctx, m, fmt.Sprintf("Gagal download item %d/%d. Coba lagi ntar ya!", i+1, len(items)))
			continue
		}
		isVideo := strings.Contains(item.URL, ".mp4") || strings.Contains(item.URL, "&dl=1")
		if isVideo {
			up, err := b.wa.Upload(ctx, data, whatsmeow.MediaVideo)
			if err != nil {
				b.log.Error().Err(err).Msg("instagram video upload failed")
				continue
			}
			b.sendMessage(ctx, m.Chat, buildVideoFromBytes(up, caption, len(data)))
		} else {
			if err := b.sendImageWithCaption(ctx, m.Chat, data, caption); err != nil {
				b.log.Error().Err(err).Msg("instagram image upload failed")
			}
		}
		if len(items) > 1 && i < len(items)-1 {
			time.Sleep(time.Second)
		}
	}
	return nil
}

// cmdRubah changes the permission level of another command.
func cmdRubah(ctx context.Context, b *Bot, m *inboundMessage, args string) error {
	fields := strings.Fields(strings.ToLower(args))
	if len(fields) < 2 {
		b.replyText(ctx, m, "formatnya salah cuy! pake: .rubah <command> <admin/all/admin_group>")
		return nil
	}
	target, level := fields[0], fields[1]
	if _, ok := b.registry[target]; !ok {
		b.replyText(ctx, m, fmt.Sprintf("command %q ga ada di daftar command yang bisa diubah!", target))
		return nil
	}
	if !validLevels[level] {
		b.replyText(ctx, m, "permission harus salah satu dari: admin, all, atau admin_group!")
		return nil
	}
	b.store.SetPermissionLevel(target, level)
	b.replyText(ctx, m, fmt.Sprintf("nice! sekarang command %q cuma bisa dipake sama %q", target, level))
	return nil
}
