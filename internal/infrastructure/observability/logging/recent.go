package logging

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// LogEntry represents a single retained log entry.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	TenantID  string `json:"tenantId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RecentBuffer keeps the last N warn-or-worse entries across all channels.
// It is a zerolog.LevelWriter so lower levels never reach the JSON decode.
type RecentBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewRecentBuffer returns a buffer holding at most size entries. A size of zero disables retention.
func NewRecentBuffer(size int) *RecentBuffer {
	if size < 0 {
		size = 0
	}
	return &RecentBuffer{entries: make([]LogEntry, size)}
}

// Write satisfies io.Writer; entries without a level are ignored.
func (b *RecentBuffer) Write(p []byte) (int, error) {
	return b.WriteLevel(zerolog.WarnLevel, p)
}

// WriteLevel satisfies zerolog.LevelWriter.
func (b *RecentBuffer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if len(b.entries) == 0 || level < zerolog.WarnLevel || level == zerolog.NoLevel {
		return len(p), nil
	}

	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}

	entry := LogEntry{
		Timestamp: getString(raw, zerolog.TimestampFieldName),
		Level:     getString(raw, zerolog.LevelFieldName),
		Channel:   getString(raw, "channel"),
		Message:   getString(raw, zerolog.MessageFieldName),
		TenantID:  getString(raw, "tenantId"),
		RoomID:    getString(raw, "roomId"),
		Error:     getString(raw, zerolog.ErrorFieldName),
	}

	b.mu.Lock()
	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()

	return len(p), nil
}

// Entries returns retained entries oldest first, optionally filtered by channel ("" or "all" for every channel).
func (b *RecentBuffer) Entries(channel string) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []LogEntry
	if b.full {
		ordered = append(ordered, b.entries[b.next:]...)
	}
	ordered = append(ordered, b.entries[:b.next]...)

	if channel == "" || channel == "all" {
		return ordered
	}
	filtered := ordered[:0]
	for _, e := range ordered {
		if e.Channel == channel {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func getString(data map[string]any, key string) string {
	if val, ok := data[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}
