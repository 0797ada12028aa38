package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "relaybot/pkg/logx"
)

// fileStore persists the whole queue as a single JSON document and rewrites
// it in full on every mutation. Writes land in a temp file first and rename
// into place, so a failed write leaves the previous state intact.
type fileStore struct {
	log  logx.Logger
	mu   sync.Mutex
	path string
}

type fileDoc struct {
	Entries []Entry `json:"entries"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("schedule.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path}

	// First run: materialize an empty queue so later reads are uniform.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(fileDoc{Entries: []Entry{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Append(ctx context.Context, e Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Entries = append(doc.Entries, e)
	if err := s.write(doc); err != nil {
		return err
	}
	s.log.Debug("entry appended", logx.String("key", e.Key), logx.Int("items", len(e.Contents)), logx.Int("pending", len(doc.Entries)))
	return nil
}

func (s *fileStore) TakeDue(ctx context.Context, due func(key string) bool) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	var taken, remaining []Entry
	for _, e := range doc.Entries {
		if due(e.Key) {
			taken = append(taken, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	if len(taken) == 0 {
		// Nothing due: leave the file untouched (no spurious rewrite).
		return nil, nil
	}

	doc.Entries = remaining
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}
	if err := s.write(doc); err != nil {
		// Write-back failed: report an error and deliver nothing, so the
		// entries stay queued and come back on the next trigger.
		return nil, err
	}
	return taken, nil
}

func (s *fileStore) List(ctx context.Context) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return append([]Entry(nil), doc.Entries...), nil
}

func (s *fileStore) read() (fileDoc, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return fileDoc{Entries: []Entry{}}, nil
	}
	if err != nil {
		return fileDoc{}, err
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return fileDoc{}, fmt.Errorf("schedule store corrupt: %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *fileStore) write(doc fileDoc) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
