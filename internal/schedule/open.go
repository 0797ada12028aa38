package schedule

import (
	"context"
	"errors"
	"strings"

	logx "relaybot/pkg/logx"
)

// Store is the durable queue API used by the collector and dispatcher.
//
// TakeDue combines read, filter, and write-back into one logical step: due
// entries are removed from the store and handed to the caller for delivery.
// If delivery then fails, the entries are gone (the store favors at-least-once
// on the read side: a crash before the write-back leaves them in place and
// they are returned again on the next trigger).
type Store interface {
	Append(ctx context.Context, e Entry) error
	TakeDue(ctx context.Context, due func(key string) bool) ([]Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown schedule store driver: " + cfg.Driver)
	}
}
