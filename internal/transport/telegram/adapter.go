package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Token string
	// Offline skips the getMe probe on startup (tests).
	Offline bool
}

// Adapter sends through the Telegram Bot API via telebot.
//
// Inbound updates arrive over the webhook endpoint (internal/httpapi), not a
// poller, so the adapter is send-and-fetch only.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	sendOpt := &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview}
	if opt.ReplyTo != 0 {
		sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: &tele.Chat{ID: to.ChatID}}
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	return err
}

func (a *Adapter) SendPhoto(ctx context.Context, to transport.ChatTarget, url string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, &tele.Photo{File: tele.FromURL(url)})
	return err
}

func (a *Adapter) SendVideo(ctx context.Context, to transport.ChatTarget, url string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, &tele.Video{File: tele.FromURL(url)})
	return err
}

func (a *Adapter) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	rc, err := a.bot.File(&tele.File{FileID: fileID})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	a.log.Debug("file fetched", logx.String("file_id", fileID), logx.Int("bytes", len(b)), logx.Duration("took", time.Since(start)))
	return b, nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// DecodeUpdate parses a raw webhook payload (a Telegram Update object) into
// the transport representation. Non-message updates decode to a zero-kind
// Update the router ignores.
func DecodeUpdate(body []byte) (transport.Update, error) {
	var u tele.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return transport.Update{}, err
	}
	m := u.Message
	if m == nil {
		return transport.Update{}, nil
	}

	msg := &transport.Message{
		ID:   m.ID,
		Text: m.Text,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.IsGroup = m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	switch {
	case m.Photo != nil:
		msg.Media = &transport.MediaRef{Kind: transport.MediaPhoto, FileID: m.Photo.FileID}
		if msg.Text == "" {
			msg.Text = m.Caption
		}
	case m.Video != nil:
		msg.Media = &transport.MediaRef{Kind: transport.MediaVideo, FileID: m.Video.FileID}
		if msg.Text == "" {
			msg.Text = m.Caption
		}
	}

	return transport.Update{Kind: transport.UpdateMessage, Message: msg}, nil
}
