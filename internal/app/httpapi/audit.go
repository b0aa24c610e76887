package httpapi

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

const defaultAuditSize = 512

// auditEntry is one recorded mutating request.
type auditEntry struct {
	Time       time.Time `json:"time"`
	Caller     string    `json:"caller,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// auditLog keeps a bounded in-memory ring of entries and optionally appends
// each entry to a file sink.
type auditLog struct {
	mu      sync.Mutex
	entries []auditEntry
	next    int
	full    bool
	sink    *fileAuditSink
}

func newAuditLog(size int, sink *fileAuditSink) *auditLog {
	if size <= 0 {
		size = defaultAuditSize
	}
	return &auditLog{entries: make([]auditEntry, size), sink: sink}
}

func (l *auditLog) add(entry auditEntry) {
	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.write(entry)
	}
}

// listLimit returns the most recent entries, newest first. A non-positive
// limit returns everything retained.
func (l *auditLog) listLimit(limit int) []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]auditEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// fileAuditSink appends entries as JSON lines.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) write(entry auditEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.file.Write(append(data, '\n'))
}
