package dispatch

import (
	"context"
	"strings"

	"github.com/ARX-SOLUTION/instagram-bridge/internal/event"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/instagram"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/telegram"
	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
	"github.com/ARX-SOLUTION/instagram-bridge/pkg/tgui"
)

// attachmentCaptionMax keeps file captions under Telegram's 1024-char limit.
const attachmentCaptionMax = 950

func (d *Dispatcher) processMessaging(ctx context.Context, m *event.Messaging) {
	typ := event.ClassifyMessaging(m)

	// The key is recorded even for ignored types so a redelivered read
	// receipt is dropped without reclassification.
	key := event.MessagingKey(m)
	if d.duplicate(ctx, key, typ.String()) {
		return
	}
	d.dedup.Cleanup()

	if typ.Ignored() {
		return
	}

	senderID := m.SenderID().String()
	if senderID == "" || senderID == d.cfg.OwnIGUserID {
		return
	}

	switch typ {
	case event.TypeDMMessage:
		d.processDMMessage(ctx, m, typ, senderID)
	case event.TypeDMReaction:
		d.processDMReaction(ctx, m, typ, senderID)
	default:
		d.send(ctx, diagnosticMessage("Instagram DM Event", typ.String(), m), typ.String(), typ.String(), typ.String())
	}
}

func (d *Dispatcher) processDMMessage(ctx context.Context, m *event.Messaging, typ event.Type, senderID string) {
	text := ""
	if m.Message != nil {
		text = strings.TrimSpace(m.Message.Text)
	}
	var attachments []event.Attachment
	if m.Message != nil {
		attachments = m.Message.Attachments
	}
	if text == "" && len(attachments) == 0 {
		return
	}

	userLink := d.senderLink(ctx, senderID)

	if text != "" {
		msg := tgui.B("Yangi xabar (Instagram DM)") +
			tgui.Raw("\nKimdan: ") + userLink +
			tgui.Raw("\n\nXabar: ") + tgui.Esc(m.Message.Text)
		d.send(ctx, msg, typ.String(), typ.String(), typ.String())
	}

	for i := range attachments {
		d.forwardAttachment(ctx, &attachments[i], userLink, typ)
	}

	if d.cfg.AutoReply != "" && d.graph != nil {
		if err := d.graph.SendDirectReply(ctx, senderID, d.cfg.AutoReply); err != nil {
			d.log.Warn("auto-reply failed", logx.String("sender", senderID), logx.Err(err))
		}
	}
}

func (d *Dispatcher) processDMReaction(ctx context.Context, m *event.Messaging, typ event.Type, senderID string) {
	emoji := ""
	if m.Reaction != nil {
		emoji = m.Reaction.Emoji
	}

	display := senderID
	if info := d.userInfo(ctx, senderID); info != nil && info.Username != "" {
		display = info.Username
	}

	msg := tgui.B("Instagram DM Reaction") +
		tgui.Raw("\nKimdan: ") + tgui.Code(display) +
		tgui.Raw("\nReaksiya: ") + tgui.Esc(emoji)
	d.send(ctx, msg, typ.String(), typ.String(), typ.String())
}

// senderLink resolves the sender to a profile link, falling back to a bare id
// when the profile lookup has nothing.
func (d *Dispatcher) senderLink(ctx context.Context, senderID string) tgui.H {
	info := d.userInfo(ctx, senderID)
	name := "Noma'lum"
	username := ""
	if info != nil {
		if info.Name != "" {
			name = info.Name
		}
		username = info.Username
	}
	if username != "" {
		return tgui.ProfileLink(name+" (@"+username+")", username)
	}
	return tgui.Link("ID: "+senderID, "https://instagram.com/")
}

func (d *Dispatcher) userInfo(ctx context.Context, userID string) *instagram.UserInfo {
	if d.graph == nil {
		return nil
	}
	info, err := d.graph.GetUserInfo(ctx, userID)
	if err != nil {
		d.log.Warn("user info fetch failed", logx.String("user", userID), logx.Err(err))
		return nil
	}
	return info
}

// forwardAttachment re-uploads one DM attachment to the group, falling back
// to sendDocument and finally to a link-only message.
func (d *Dispatcher) forwardAttachment(ctx context.Context, a *event.Attachment, userLink tgui.H, typ event.Type) {
	attType := strings.ToLower(a.Type)
	if attType == "" {
		attType = "file"
	}

	caption := tgui.B("Instagram DM") +
		tgui.Raw("\nKimdan: ") + userLink +
		tgui.Raw("\nTuri: ") + tgui.Code(attType)

	if attType == "share" {
		msg := caption
		if a.Payload.Title != "" {
			msg += tgui.Raw("\nSarlavha: ") + tgui.Esc(a.Payload.Title)
		}
		if u := a.ShareURL(); u != "" {
			msg += tgui.Raw("\n\n") + tgui.Esc(u)
		} else {
			msg += tgui.Raw("\n\nURL topilmadi")
		}
		d.send(ctx, msg, typ.String(), typ.String(), typ.String())
		return
	}

	fileURL := a.FileURL()
	if fileURL == "" {
		msg := caption + tgui.Raw("\n\n") + tgui.B("URL topilmadi") +
			tgui.Raw("\n") + tgui.Pre(tgui.ShortJSON(a, 3000))
		d.send(ctx, msg, typ.String(), typ.String(), typ.String())
		return
	}

	data, contentType, err := d.graph.Download(ctx, fileURL)
	if err != nil {
		d.log.Warn("attachment download failed", logx.String("url", fileURL), logx.Err(err))
		d.sendAttachmentFallback(ctx, caption, fileURL, typ)
		return
	}

	var method telegram.FileMethod
	switch attType {
	case "image", "sticker":
		method = telegram.SendPhoto
	case "video", "reel":
		method = telegram.SendVideo
	case "audio", "voice_clip":
		method = telegram.SendVoice
	default:
		method = telegram.SendDocument
	}

	threadID := 0
	if d.topics != nil {
		threadID = d.topics.ResolveThread(ctx, typ.String(), typ.String())
	}
	opt := telegram.FileOptions{
		ThreadID:  threadID,
		Caption:   tgui.Trunc(caption.String(), attachmentCaptionMax),
		ParseMode: "HTML",
		Streaming: true,
	}
	filename := "file." + fileExt(contentType, "bin")

	res := d.tg.SendFile(ctx, method, data, filename, contentType, opt)
	if !res.OK && method != telegram.SendDocument {
		res = d.tg.SendFile(ctx, telegram.SendDocument, data, filename, contentType, opt)
	}
	if !res.OK {
		d.log.Warn("attachment upload failed",
			logx.String("method", string(method)),
			logx.String("reason", res.Description))
		d.sendAttachmentFallback(ctx, caption, fileURL, typ)
	}
}

func (d *Dispatcher) sendAttachmentFallback(ctx context.Context, caption tgui.H, fileURL string, typ event.Type) {
	msg := caption + tgui.Raw("\n\nYuborib bo'lmadi.\nURL: ") + tgui.Esc(fileURL)
	d.send(ctx, msg, typ.String(), typ.String(), typ.String())
}
