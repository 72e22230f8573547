package console

import "sync"

const DefaultLogBufferSize = 1000

type Entry struct {
	Seq  uint64
	Line string
}

// LogBuffer keeps the most recent console lines of one host. Once full the
// oldest entry is overwritten. Sequence numbers start at 1 and never repeat.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	pos     int
	full    bool
	nextSeq uint64
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogBufferSize
	}
	return &LogBuffer{
		entries: make([]Entry, capacity),
		nextSeq: 1,
	}
}

func (b *LogBuffer) Append(line string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.nextSeq
	b.nextSeq++

	b.entries[b.pos] = Entry{Seq: seq, Line: line}
	b.pos = (b.pos + 1) % len(b.entries)
	if b.pos == 0 {
		b.full = true
	}
	return seq
}

// Snapshot returns the buffered entries oldest first.
func (b *LogBuffer) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]Entry, b.pos)
		copy(out, b.entries[:b.pos])
		return out
	}

	out := make([]Entry, 0, len(b.entries))
	out = append(out, b.entries[b.pos:]...)
	out = append(out, b.entries[:b.pos]...)
	return out
}

func (b *LogBuffer) Lines() []string {
	snap := b.Snapshot()
	lines := make([]string, len(snap))
	for i, e := range snap {
		lines[i] = e.Line
	}
	return lines
}

func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.entries)
	}
	return b.pos
}

func (b *LogBuffer) Cap() int {
	return len(b.entries)
}
