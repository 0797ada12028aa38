package schedule

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

func newFileStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.json")
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "bolt", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("Open accepted an unknown driver")
	}
}

func TestFileStoreMaterializesEmptyQueue(t *testing.T) {
	t.Parallel()

	_, path := newFileStore(t)
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"entries"`) {
		t.Fatalf("fresh store file = %q, want an entries document", b)
	}
}

func TestFileStoreAppendAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)

	first := Entry{Key: "2025-03-10 12:00", Contents: []ContentItem{TextItem("a"), ImageItem("https://x/1.jpg")}}
	second := Entry{Key: "2025-03-10 09:00", Contents: []ContentItem{VideoItem("https://x/1.mp4")}}
	if err := s.Append(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(got))
	}
	// Insertion order, not key order.
	if got[0].Key != first.Key || got[1].Key != second.Key {
		t.Fatalf("List order = %q, %q", got[0].Key, got[1].Key)
	}
	if got[0].Contents[1].URL != "https://x/1.jpg" {
		t.Fatalf("contents did not round-trip: %+v", got[0].Contents)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")
	s, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, Entry{Key: "2025-03-10 12:00", Contents: []ContentItem{TextItem("a")}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "2025-03-10 12:00" {
		t.Fatalf("reopened store returned %+v", got)
	}
}

func TestFileStoreTakeDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newFileStore(t)

	keys := []string{"2025-03-10 09:00", "2025-03-10 12:00", "2025-03-11 08:00"}
	for _, k := range keys {
		if err := s.Append(ctx, Entry{Key: k, Contents: []ContentItem{TextItem(k)}}); err != nil {
			t.Fatal(err)
		}
	}

	nowKey := FormatKey(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	taken, err := s.TakeDue(ctx, func(key string) bool { return key <= nowKey })
	if err != nil {
		t.Fatal(err)
	}
	if len(taken) != 2 {
		t.Fatalf("TakeDue returned %d entries, want 2", len(taken))
	}
	if taken[0].Key != keys[0] || taken[1].Key != keys[1] {
		t.Fatalf("TakeDue order = %q, %q", taken[0].Key, taken[1].Key)
	}

	remaining, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Key != keys[2] {
		t.Fatalf("remaining = %+v, want only the future entry", remaining)
	}

	// Taken entries do not come back.
	again, err := s.TakeDue(ctx, func(key string) bool { return key <= nowKey })
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second TakeDue returned %+v", again)
	}
}

func TestFileStoreTakeDueNothingDueLeavesFileUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, path := newFileStore(t)
	if err := s.Append(ctx, Entry{Key: "2031-01-01 00:00", Contents: []ContentItem{TextItem("later")}}); err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	taken, err := s.TakeDue(ctx, func(key string) bool { return key <= "2025-01-01 00:00" })
	if err != nil {
		t.Fatal(err)
	}
	if taken != nil {
		t.Fatalf("TakeDue = %+v, want nil", taken)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("empty TakeDue rewrote the store file")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, path := newFileStore(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.List(ctx); err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Fatalf("List on corrupt file err = %v", err)
	}
	if err := s.Append(ctx, Entry{Key: "2025-03-10 12:00"}); err == nil {
		t.Fatal("Append on corrupt file succeeded")
	}
}

func TestFormatKeyOrderMatchesTime(t *testing.T) {
	t.Parallel()

	a := FormatKey(time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC))
	b := FormatKey(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	c := FormatKey(time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC))
	if !(a < b && b < c) {
		t.Fatalf("key order broken: %q %q %q", a, b, c)
	}
}
