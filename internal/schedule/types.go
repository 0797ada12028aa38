package schedule

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("schedule store disabled")

// Config configures the schedule store.
//
// Driver values:
//   - "file": dependency-free JSON file backend
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ContentKind tags one unit of deliverable content.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindVideo ContentKind = "video"
)

// ContentItem is one captured message payload. Immutable once created.
// Text items carry Text; image/video items carry the durable asset URL.
type ContentItem struct {
	Kind ContentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	URL  string      `json:"url,omitempty"`
}

func TextItem(s string) ContentItem  { return ContentItem{Kind: KindText, Text: s} }
func ImageItem(u string) ContentItem { return ContentItem{Kind: KindImage, URL: u} }
func VideoItem(u string) ContentItem { return ContentItem{Kind: KindVideo, URL: u} }

// Entry is one scheduled delivery: a key plus its batch, in delivery order.
// Entries are never mutated in place.
type Entry struct {
	Key      string        `json:"key"`
	Contents []ContentItem `json:"contents"`
}

// KeyLayout formats keys so lexicographic order equals chronological order,
// which lets the due predicate be a plain string compare.
const KeyLayout = "2006-01-02 15:04"

func FormatKey(t time.Time) string { return t.Format(KeyLayout) }
