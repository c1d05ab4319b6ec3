package history

import (
	"sync"
	"time"
)

// Roles recorded in the archive.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one archived message. Exchange numbers a completed user/assistant
// round trip; both halves of the same turn share it.
type Entry struct {
	Exchange  int       `json:"exchange_number"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Archive is the per-session conversation log. The user half of a turn is
// appended as soon as the transcript lands; the assistant half only after the
// reply finished streaming, so an interrupted turn leaves a user entry with
// no assistant counterpart.
type Archive struct {
	mu       sync.Mutex
	entries  []Entry
	exchange int
}

// NewArchive creates an empty archive.
func NewArchive() *Archive {
	return &Archive{}
}

// AppendUser records the user's transcript under the next exchange number.
func (a *Archive) AppendUser(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, Entry{
		Exchange:  a.exchange + 1,
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// AppendAssistant records the assistant's full reply and completes the
// exchange. Called exactly once per finished turn.
func (a *Archive) AppendAssistant(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchange++
	a.entries = append(a.entries, Entry{
		Exchange:  a.exchange,
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// Entries returns a copy of the full archive in order.
func (a *Archive) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Recent returns up to n of the latest entries, oldest first. Used to build
// the context window for generation.
func (a *Archive) Recent(n int) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || len(a.entries) == 0 {
		return nil
	}
	start := len(a.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(a.entries)-start)
	copy(out, a.entries[start:])
	return out
}

// Exchanges returns the number of completed exchanges.
func (a *Archive) Exchanges() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exchange
}

// Len returns the total entry count.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Clear empties the archive and resets the exchange counter.
func (a *Archive) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	a.exchange = 0
}
