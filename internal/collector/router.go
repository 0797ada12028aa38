package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"relaybot/internal/schedule"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Uploader moves a platform-hosted binary to durable public hosting.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Router turns inbound updates into session commands and captured content.
//
// Control commands are intercepted before capture and never stored:
//
//	/send HH:MM  begin collection, target delivery time
//	/end HH:MM   end collection, finalize the schedule entry
//	/list        pending deliveries
//
// Any other /-prefixed text is accepted but changes nothing.
type Router struct {
	log      logx.Logger
	session  *Session
	store    schedule.Store
	adapter  transport.Adapter
	uploader Uploader

	mu  sync.Mutex
	loc *time.Location

	clock func() time.Time
}

func NewRouter(log logx.Logger, session *Session, store schedule.Store, adapter transport.Adapter, uploader Uploader, loc *time.Location) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Router{
		log:      log,
		session:  session,
		store:    store,
		adapter:  adapter,
		uploader: uploader,
		loc:      loc,
		clock:    time.Now,
	}
}

// SetLocation swaps the operating timezone (config hot-reload).
func (r *Router) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	r.mu.Lock()
	r.loc = loc
	r.mu.Unlock()
}

func (r *Router) now() time.Time {
	r.mu.Lock()
	loc := r.loc
	r.mu.Unlock()
	return r.clock().In(loc)
}

func (r *Router) Handle(ctx context.Context, up transport.Update) {
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message

	text := strings.TrimSpace(m.Text)
	if strings.HasPrefix(text, "/") {
		r.handleCommand(ctx, m, text)
		return
	}
	r.capture(ctx, m, text)
}

func (r *Router) handleCommand(ctx context.Context, m *transport.Message, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	// Telegram appends @botname in groups.
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/send":
		at, err := r.session.Begin(arg, r.now())
		if err != nil {
			// Malformed time: leave state unchanged, no user feedback.
			r.log.Debug("begin rejected", logx.String("arg", arg), logx.Err(err))
			return
		}
		r.log.Info("collection started",
			logx.Time("deliver_at", at),
			logx.Int64("chat_id", m.ChatID),
			logx.Int64("from", m.FromID),
			logx.Bool("group", m.IsGroup))
		r.reply(ctx, m, fmt.Sprintf("Collecting. Will broadcast at %s.", schedule.FormatKey(at)))

	case "/end":
		entry, err := r.session.End(arg, r.now())
		switch {
		case errors.Is(err, ErrNotCollecting):
			r.log.Debug("end ignored: no open collection", logx.Int64("chat_id", m.ChatID))
			return
		case err != nil:
			r.log.Debug("end rejected", logx.String("arg", arg), logx.Err(err))
			return
		}
		if err := r.store.Append(ctx, entry); err != nil {
			// Storage failure is fatal for this command only; the durable
			// queue keeps its previous state and the window stays open so
			// the retry still has the batch.
			r.log.Error("schedule append failed", logx.String("key", entry.Key), logx.Err(err))
			r.reply(ctx, m, "Failed to schedule the broadcast, please retry /end.")
			return
		}
		r.session.Commit()
		r.log.Info("collection closed", logx.String("key", entry.Key), logx.Int("items", len(entry.Contents)))
		r.reply(ctx, m, fmt.Sprintf("Collection closed: %d item(s) scheduled for %s.", len(entry.Contents), entry.Key))

	case "/list":
		entries, err := r.store.List(ctx)
		if err != nil {
			r.log.Error("schedule list failed", logx.Err(err))
			return
		}
		r.reply(ctx, m, formatPending(entries))

	default:
		// Unrecognized or debug-prefixed commands are diagnostic only.
		r.log.Debug("unrecognized command",
			logx.String("cmd", cmd),
			logx.Int64("chat_id", m.ChatID),
			logx.String("from", m.FromUsername))
	}
}

func (r *Router) capture(ctx context.Context, m *transport.Message, text string) {
	// Gate before any fetch/upload work: content outside a window is dropped
	// without side effects.
	if !r.session.Active() {
		return
	}

	if m.Media != nil {
		r.captureMedia(ctx, m.Media)
		return
	}
	if text == "" {
		return
	}
	if r.session.Capture(schedule.TextItem(text)) {
		r.log.Debug("text captured", logx.Int("len", len(text)))
	}
}

func (r *Router) captureMedia(ctx context.Context, ref *transport.MediaRef) {
	data, err := r.adapter.FetchFile(ctx, ref.FileID)
	if err != nil {
		// Drop the item, keep the session going.
		r.log.Warn("media fetch failed; item dropped", logx.String("file_id", ref.FileID), logx.Err(err))
		return
	}

	name, contentType := mediaNames(ref)
	url, err := r.uploader.Upload(ctx, name, contentType, data)
	if err != nil {
		r.log.Warn("media upload failed; item dropped", logx.String("file_id", ref.FileID), logx.Err(err))
		return
	}

	var item schedule.ContentItem
	switch ref.Kind {
	case transport.MediaVideo:
		item = schedule.VideoItem(url)
	default:
		item = schedule.ImageItem(url)
	}
	if r.session.Capture(item) {
		r.log.Debug("media captured", logx.String("kind", string(item.Kind)), logx.String("url", url))
	}
}

func mediaNames(ref *transport.MediaRef) (name, contentType string) {
	if ref.Kind == transport.MediaVideo {
		return ref.FileID + ".mp4", "video/mp4"
	}
	return ref.FileID + ".jpg", "image/jpeg"
}

func formatPending(entries []schedule.Entry) string {
	if len(entries) == 0 {
		return "No pending broadcasts."
	}
	var b strings.Builder
	b.WriteString("Pending broadcasts:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s (%d item(s))\n", e.Key, len(e.Contents))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) reply(ctx context.Context, m *transport.Message, text string) {
	to := transport.ChatTarget{ChatID: m.ChatID}
	if err := r.adapter.SendText(ctx, to, text, &transport.SendOptions{ReplyTo: m.ID, DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}
