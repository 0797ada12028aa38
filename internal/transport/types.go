package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// MediaKind tags the media payload of an inbound message (if any).
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Media        *MediaRef
	IsGroup      bool
}

// MediaRef points at a platform-hosted binary (fetch via Adapter.FetchFile).
type MediaRef struct {
	Kind   MediaKind
	FileID string
}

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	DisablePreview bool
	// ReplyTo replies to a specific message in the target chat (0 = plain send).
	ReplyTo int
}

// Adapter is the outbound messaging surface the core depends on.
//
// Implementations must be safe for concurrent use; every method is a single
// synchronous API call bounded by ctx.
type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	SendPhoto(ctx context.Context, to ChatTarget, url string) error
	SendVideo(ctx context.Context, to ChatTarget, url string) error

	// FetchFile downloads a platform-hosted binary by file id.
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}
