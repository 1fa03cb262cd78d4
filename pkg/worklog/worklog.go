// Package worklog records every status change a workflow produces as an
// ordered, append-only log. The log is the single source of truth for
// monitoring, statistics, and persistence.
package worklog

import (
	"context"
	"sync"
	"time"
)

// Entry types.
const (
	AgentStatusUpdate    = "AGENT_STATUS_UPDATE"
	TaskStatusUpdate     = "TASK_STATUS_UPDATE"
	WorkflowStatusUpdate = "WORKFLOW_STATUS_UPDATE"
)

// Entry is one recorded status change. Seq is assigned by the log and is
// strictly increasing; Timestamp is strictly increasing as well, bumped by
// a nanosecond when the clock ties.
type Entry struct {
	Seq        int64             `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	WorkflowID string            `json:"workflowId,omitempty"`
	TaskID     string            `json:"taskId,omitempty"`
	TaskTitle  string            `json:"taskTitle,omitempty"`
	AgentID    string            `json:"agentId,omitempty"`
	AgentName  string            `json:"agentName,omitempty"`
	Status     string            `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Store persists worklog entries.
type Store interface {
	Append(ctx context.Context, entries []Entry) error
	List(ctx context.Context, workflowID string) ([]Entry, error)
	Close() error
}

// Log is an in-memory, concurrency-safe, append-only event log with
// fan-out to subscribers. A slow subscriber never blocks an append; its
// channel simply drops the entry.
type Log struct {
	mu          sync.RWMutex
	entries     []Entry
	subscribers map[int]chan Entry
	nextSubID   int
	lastTime    time.Time
	now         func() time.Time
}

func NewLog() *Log {
	return &Log{
		subscribers: make(map[int]chan Entry),
		now:         time.Now,
	}
}

// Append stamps and stores an entry, then fans it out to subscribers.
// The stamped entry is returned.
func (l *Log) Append(entry Entry) Entry {
	l.mu.Lock()

	ts := l.now()
	if !ts.After(l.lastTime) {
		ts = l.lastTime.Add(time.Nanosecond)
	}
	l.lastTime = ts

	entry.Seq = int64(len(l.entries) + 1)
	entry.Timestamp = ts
	l.entries = append(l.entries, entry)

	subs := make([]chan Entry, 0, len(l.subscribers))
	for _, ch := range l.subscribers {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
		}
	}
	return entry
}

// Entries returns a copy of all entries in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe returns a channel receiving future entries and a cancel
// function that closes it.
func (l *Log) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	ch := make(chan Entry, buffer)
	l.subscribers[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if existing, ok := l.subscribers[id]; ok {
			delete(l.subscribers, id)
			close(existing)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}
