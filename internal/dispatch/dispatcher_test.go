package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"relaybot/internal/schedule"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type sendRec struct {
	chatID int64
	kind   string
	body   string
}

type fakeAdapter struct {
	mu    sync.Mutex
	sends []sendRec
	fail  func(r sendRec) bool
}

func (f *fakeAdapter) record(r sendRec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil && f.fail(r) {
		return fmt.Errorf("send %s to %d refused", r.kind, r.chatID)
	}
	f.sends = append(f.sends, r)
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) error {
	return f.record(sendRec{chatID: to.ChatID, kind: "text", body: text})
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to transport.ChatTarget, url string) error {
	return f.record(sendRec{chatID: to.ChatID, kind: "photo", body: url})
}

func (f *fakeAdapter) SendVideo(_ context.Context, to transport.ChatTarget, url string) error {
	return f.record(sendRec{chatID: to.ChatID, kind: "video", body: url})
}

func (f *fakeAdapter) FetchFile(context.Context, string) ([]byte, error) {
	return nil, errors.New("not used")
}

func newStore(t *testing.T) schedule.Store {
	t.Helper()
	s, err := schedule.Open(schedule.Config{Path: filepath.Join(t.TempDir(), "queue.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunDeliversDueEntriesInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	adapter := &fakeAdapter{}
	d := New(Config{ChatIDs: []int64{100, 200}, RatePerSec: 1000, Timezone: time.UTC}, store, adapter, logx.Nop())

	entries := []schedule.Entry{
		{Key: "2025-03-10 09:00", Contents: []schedule.ContentItem{schedule.TextItem("morning"), schedule.ImageItem("https://x/a.jpg")}},
		{Key: "2025-03-10 12:00", Contents: []schedule.ContentItem{schedule.VideoItem("https://x/b.mp4")}},
		{Key: "2025-03-11 08:00", Contents: []schedule.ContentItem{schedule.TextItem("future")}},
	}
	for _, e := range entries {
		if err := store.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := d.Run(ctx, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("Run delivered %d entries, want 2", n)
	}

	want := []sendRec{
		{100, "text", "morning"},
		{100, "photo", "https://x/a.jpg"},
		{200, "text", "morning"},
		{200, "photo", "https://x/a.jpg"},
		{100, "video", "https://x/b.mp4"},
		{200, "video", "https://x/b.mp4"},
	}
	if len(adapter.sends) != len(want) {
		t.Fatalf("recorded %d sends, want %d: %+v", len(adapter.sends), len(want), adapter.sends)
	}
	for i := range want {
		if adapter.sends[i] != want[i] {
			t.Fatalf("send %d = %+v, want %+v", i, adapter.sends[i], want[i])
		}
	}

	// The future entry stays queued.
	left, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Key != "2025-03-11 08:00" {
		t.Fatalf("remaining = %+v", left)
	}
}

func TestRunCatchesUpMissedMinutes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	adapter := &fakeAdapter{}
	d := New(Config{ChatIDs: []int64{1}, Timezone: time.UTC}, store, adapter, logx.Nop())

	if err := store.Append(ctx, schedule.Entry{Key: "2025-03-10 11:58", Contents: []schedule.ContentItem{schedule.TextItem("late")}}); err != nil {
		t.Fatal(err)
	}

	// First poll after several missed minutes still picks the entry up.
	n, err := d.Run(ctx, time.Date(2025, 3, 10, 12, 3, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Run delivered %d entries, want 1", n)
	}
}

func TestRunNothingDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	adapter := &fakeAdapter{}
	d := New(Config{ChatIDs: []int64{1}, Timezone: time.UTC}, store, adapter, logx.Nop())

	if err := store.Append(ctx, schedule.Entry{Key: "2031-01-01 00:00", Contents: []schedule.ContentItem{schedule.TextItem("later")}}); err != nil {
		t.Fatal(err)
	}
	n, err := d.Run(ctx, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(adapter.sends) != 0 {
		t.Fatalf("Run = %d with %d sends, want none", n, len(adapter.sends))
	}
}

func TestRunSendFailureContinues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	adapter := &fakeAdapter{fail: func(r sendRec) bool { return r.chatID == 100 && r.kind == "photo" }}
	d := New(Config{ChatIDs: []int64{100, 200}, Timezone: time.UTC}, store, adapter, logx.Nop())

	e := schedule.Entry{Key: "2025-03-10 09:00", Contents: []schedule.ContentItem{
		schedule.ImageItem("https://x/a.jpg"),
		schedule.TextItem("after"),
	}}
	if err := store.Append(ctx, e); err != nil {
		t.Fatal(err)
	}

	n, err := d.Run(ctx, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Run delivered %d entries, want 1", n)
	}
	want := []sendRec{
		{100, "text", "after"},
		{200, "photo", "https://x/a.jpg"},
		{200, "text", "after"},
	}
	if len(adapter.sends) != len(want) {
		t.Fatalf("recorded %d sends, want %d: %+v", len(adapter.sends), len(want), adapter.sends)
	}
	for i := range want {
		if adapter.sends[i] != want[i] {
			t.Fatalf("send %d = %+v, want %+v", i, adapter.sends[i], want[i])
		}
	}
}

func TestRunTimezoneAffectsDueness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	adapter := &fakeAdapter{}
	east := time.FixedZone("UTC+9", 9*60*60)
	d := New(Config{ChatIDs: []int64{1}, Timezone: east}, store, adapter, logx.Nop())

	// 03:00 UTC is 12:00 in UTC+9, so the noon entry is already due there.
	if err := store.Append(ctx, schedule.Entry{Key: "2025-03-10 12:00", Contents: []schedule.ContentItem{schedule.TextItem("noon")}}); err != nil {
		t.Fatal(err)
	}
	n, err := d.Run(ctx, time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Run delivered %d entries, want 1", n)
	}
}
