// Package dispatch delivers due schedule entries to the destination chats.
//
// The dispatcher owns no clock: it runs when poked, either by the HTTP poll
// endpoint or by the optional internal minute cron. Matching is catch-up
// (due when key <= now at minute granularity), so a trigger that skips a
// minute still delivers everything that came due in between.
package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/schedule"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	// ChatIDs are the destination channels every due batch is pushed to.
	ChatIDs    []int64
	RatePerSec int
	Timezone   *time.Location
}

type Dispatcher struct {
	log     logx.Logger
	store   schedule.Store
	adapter transport.Adapter

	mu      sync.Mutex
	targets []transport.ChatTarget
	limiter *rate.Limiter
	loc     *time.Location
}

func New(cfg Config, store schedule.Store, adapter transport.Adapter, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{log: log, store: store, adapter: adapter}
	d.Apply(cfg)
	return d
}

// Apply swaps destinations, rate and timezone at runtime (config hot-reload).
func (d *Dispatcher) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	targets := make([]transport.ChatTarget, 0, len(cfg.ChatIDs))
	for _, id := range cfg.ChatIDs {
		targets = append(targets, transport.ChatTarget{ChatID: id})
	}
	loc := cfg.Timezone
	if loc == nil {
		loc = time.Local
	}

	d.mu.Lock()
	d.targets = targets
	d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	d.loc = loc
	d.mu.Unlock()
}

// Run performs one due check. It returns the number of delivered entries;
// a send failure never fails the run, only a store failure does.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (int, error) {
	d.mu.Lock()
	targets := d.targets
	lim := d.limiter
	loc := d.loc
	d.mu.Unlock()

	nowKey := schedule.FormatKey(now.In(loc))
	due, err := d.store.TakeDue(ctx, func(key string) bool { return key <= nowKey })
	if err != nil {
		d.log.Error("due check failed", logx.String("now", nowKey), logx.Err(err))
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	d.log.Info("dispatching", logx.Int("entries", len(due)), logx.Int("targets", len(targets)), logx.String("now", nowKey))
	for _, e := range due {
		d.deliver(ctx, e, targets, lim)
	}
	return len(due), nil
}

func (d *Dispatcher) deliver(ctx context.Context, e schedule.Entry, targets []transport.ChatTarget, lim *rate.Limiter) {
	start := time.Now()
	sent, failed := 0, 0

	for _, t := range targets {
		for _, item := range e.Contents {
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					d.log.Warn("dispatch interrupted", logx.String("key", e.Key), logx.Err(err))
					return
				}
			}
			if err := d.sendItem(ctx, t, item); err != nil {
				// One bad item must not block its siblings or other chats.
				failed++
				d.log.Warn("send failed; continuing",
					logx.String("key", e.Key),
					logx.String("kind", string(item.Kind)),
					logx.Int64("chat_id", t.ChatID),
					logx.Err(err))
				continue
			}
			sent++
		}
	}

	fields := []logx.Field{
		logx.String("key", e.Key),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)),
	}
	if failed > 0 {
		d.log.Warn("entry delivered with failures", fields...)
	} else {
		d.log.Info("entry delivered", fields...)
	}
}

func (d *Dispatcher) sendItem(ctx context.Context, to transport.ChatTarget, item schedule.ContentItem) error {
	switch item.Kind {
	case schedule.KindImage:
		return d.adapter.SendPhoto(ctx, to, item.URL)
	case schedule.KindVideo:
		return d.adapter.SendVideo(ctx, to, item.URL)
	default:
		return d.adapter.SendText(ctx, to, item.Text, &transport.SendOptions{DisablePreview: true})
	}
}
