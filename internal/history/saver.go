package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the on-disk form of one session's conversation.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	SavedAt   time.Time `json:"saved_at"`
	Exchanges int       `json:"exchanges"`
	Messages  []Entry   `json:"messages"`
}

// Saver persists a finished session's conversation.
type Saver interface {
	Save(sessionID string, entries []Entry, exchanges int) (string, error)
}

// FileSaver writes one JSON file per session under a directory.
type FileSaver struct {
	dir string
}

// NewFileSaver creates the output directory if needed.
func NewFileSaver(dir string) (*FileSaver, error) {
	if dir == "" {
		return nil, fmt.Errorf("history: output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create output dir: %w", err)
	}
	return &FileSaver{dir: dir}, nil
}

// Save implements Saver. The write goes through a temp file and rename so a
// crash mid-write never leaves a truncated snapshot.
func (fs *FileSaver) Save(sessionID string, entries []Entry, exchanges int) (string, error) {
	snap := Snapshot{
		SessionID: sessionID,
		SavedAt:   time.Now().UTC(),
		Exchanges: exchanges,
		Messages:  entries,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("history: marshal snapshot: %w", err)
	}

	path := filepath.Join(fs.dir, fmt.Sprintf("conversation_%s.json", sessionID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("history: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("history: finalize snapshot: %w", err)
	}
	return path, nil
}
