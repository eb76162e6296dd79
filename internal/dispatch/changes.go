package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/ARX-SOLUTION/instagram-bridge/internal/event"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/storage"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/telegram"
	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
	"github.com/ARX-SOLUTION/instagram-bridge/pkg/tgui"
)

func (d *Dispatcher) processChange(ctx context.Context, c *event.Change) {
	typ := event.ClassifyChange(c)
	key := event.ChangeKey(c)
	if d.duplicate(ctx, key, typ.String()) {
		return
	}
	d.dedup.Cleanup()

	if c.Field == "media" && c.Value.MediaID != "" {
		d.processMediaChange(ctx, c, typ)
		return
	}

	if c.Value.From != nil {
		d.processFromChange(ctx, c, typ)
		return
	}

	d.send(ctx, diagnosticMessage("Instagram Event", typ.String(), c), typ.String(), typ.String(), typ.String())
}

// processMediaChange handles a new post or story: a caption+link message
// first, then a best-effort upload of the media file itself.
func (d *Dispatcher) processMediaChange(ctx context.Context, c *event.Change, typ event.Type) {
	mediaID := c.Value.MediaID.String()

	var (
		mediaType, username, caption, permalink, mediaURL string
	)
	if d.graph != nil {
		info, err := d.graph.GetMediaInfo(ctx, mediaID)
		if err != nil {
			d.log.Warn("media info fetch failed", logx.String("media_id", mediaID), logx.Err(err))
		}
		if info != nil {
			mediaType = strings.ToUpper(info.MediaType)
			username = info.Username
			caption = info.Caption
			permalink = info.Permalink
			mediaURL = info.MediaURL
			if mediaURL == "" {
				mediaURL = info.ThumbnailURL
			}
		}
	}

	isStory := mediaType == "STORY"
	topicKey, topicTitle, title := "posts", "📸 Posts", "Yangi Post (Instagram)"
	if isStory {
		topicKey, topicTitle, title = "story", "📖 Stories", "Yangi Story (Instagram)"
	}

	userLink := tgui.Raw("Instagram sahifa")
	if username != "" {
		userLink = tgui.ProfileLink(username, username)
	}

	msg := tgui.B(title) + tgui.Raw("\nKimdan: ") + userLink
	if caption != "" {
		msg += tgui.Raw("\n\n") + tgui.Esc(caption)
	}
	if permalink != "" {
		msg += tgui.Raw("\n\n") + tgui.Esc(permalink)
	}
	d.send(ctx, msg, topicKey, topicTitle, typ.String())

	if mediaURL != "" && d.graph != nil {
		d.forwardMediaFile(ctx, mediaURL, mediaType, topicKey, topicTitle)
	}

	d.savePost(ctx, storage.ForwardedPost{
		MediaID:     mediaID,
		MediaType:   mediaType,
		Username:    username,
		Caption:     caption,
		Permalink:   permalink,
		TopicKey:    topicKey,
		ForwardedAt: time.Now(),
	})
}

func (d *Dispatcher) forwardMediaFile(ctx context.Context, mediaURL, mediaType, topicKey, topicTitle string) {
	data, contentType, err := d.graph.Download(ctx, mediaURL)
	if err != nil {
		d.log.Warn("media download failed", logx.String("url", mediaURL), logx.Err(err))
		return
	}

	isVideo := mediaType == "VIDEO" || mediaType == "REELS"
	method := telegram.SendPhoto
	if isVideo {
		method = telegram.SendVideo
	}

	threadID := 0
	if d.topics != nil {
		threadID = d.topics.ResolveThread(ctx, topicKey, topicTitle)
	}
	res := d.tg.SendFile(ctx, method, data, "media."+fileExt(contentType, "jpg"), contentType, telegram.FileOptions{
		ThreadID:  threadID,
		ParseMode: "HTML",
		Streaming: true,
	})
	if !res.OK {
		d.log.Warn("media upload failed",
			logx.String("method", string(method)),
			logx.String("reason", res.Description))
	}
}

func (d *Dispatcher) processFromChange(ctx context.Context, c *event.Change, typ event.Type) {
	from := c.Value.From
	text := c.Value.Text
	if text == "" {
		text = "Media/Boshqa narsa"
	}

	var userLink tgui.H
	if from.Username != "" {
		userLink = tgui.ProfileLink(from.Username, from.Username)
	} else {
		userLink = tgui.Link("Foydalanuvchi ID: "+from.ID.String(), "https://instagram.com/")
	}

	msg := tgui.B("Yangi bildirishnoma (Instagram)") +
		tgui.Raw("\nKimdan: ") + userLink +
		tgui.Raw("\n\nXabar: ") + tgui.Esc(text)
	d.send(ctx, msg, typ.String(), typ.String(), typ.String())
}

func (d *Dispatcher) savePost(ctx context.Context, p storage.ForwardedPost) {
	if d.store == nil {
		return
	}
	if err := d.store.SavePost(ctx, p); err != nil {
		d.log.Debug("post record failed", logx.String("media_id", p.MediaID), logx.Err(err))
	}
}

// fileExt derives a filename extension from a MIME content type.
func fileExt(contentType, def string) string {
	_, sub, ok := strings.Cut(contentType, "/")
	if !ok || sub == "" {
		return def
	}
	if i := strings.IndexByte(sub, ';'); i >= 0 {
		sub = sub[:i]
	}
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return def
	}
	return sub
}
