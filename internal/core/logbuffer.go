package core

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// LogEntry represents a single log line captured by the engine.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Raw       string                 `json:"raw,omitempty"`
}

// LogRingBuffer is a fixed-size ring buffer fed with zerolog JSON output.
// It is the in-process sink through which execution traces can be read back.
type LogRingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
	pos     int
	full    bool
}

// NewLogRingBuffer creates a ring buffer that holds up to maxSize entries.
func NewLogRingBuffer(maxSize int) *LogRingBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &LogRingBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

// Write implements io.Writer so the buffer can be used as a zerolog output.
// Each call is one zerolog event; lines that are not JSON are kept raw.
func (b *LogRingBuffer) Write(p []byte) (n int, err error) {
	entry := parseLogLine(p)

	b.mu.Lock()
	b.entries[b.pos] = entry
	b.pos = (b.pos + 1) % b.maxSize
	if b.pos == 0 {
		b.full = true
	}
	b.mu.Unlock()

	return len(p), nil
}

func parseLogLine(p []byte) LogEntry {
	line := strings.TrimSpace(string(p))
	entry := LogEntry{Timestamp: time.Now().UTC()}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		entry.Message = line
		entry.Raw = line
		return entry
	}

	if v, ok := fields["level"].(string); ok {
		entry.Level = v
		delete(fields, "level")
	}
	if v, ok := fields["component"].(string); ok {
		entry.Component = v
		delete(fields, "component")
	}
	if v, ok := fields["message"].(string); ok {
		entry.Message = v
		delete(fields, "message")
	}
	if v, ok := fields["time"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			entry.Timestamp = ts
		}
		delete(fields, "time")
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	return entry
}

// GetEntries returns the most recent n log entries in chronological order.
func (b *LogRingBuffer) GetEntries(n int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int
	if b.full {
		total = b.maxSize
	} else {
		total = b.pos
	}

	if n > total {
		n = total
	}
	if n <= 0 {
		return []LogEntry{}
	}

	result := make([]LogEntry, n)
	start := b.pos - n
	if start < 0 {
		start += b.maxSize
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % b.maxSize
		result[i] = b.entries[idx]
	}
	return result
}

// Filter returns up to n of the most recent entries whose component matches.
func (b *LogRingBuffer) Filter(component string, n int) []LogEntry {
	all := b.GetEntries(b.maxSize)
	out := make([]LogEntry, 0)
	for i := len(all) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if all[i].Component == component {
			out = append(out, all[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
