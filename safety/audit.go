package safety

import (
	"sync"
	"time"
)

// AuditCapacity bounds the in-process audit ring.
const AuditCapacity = 10_000

// AuditEntry records one safety failure. The prompt is kept verbatim here
// even though user-facing output redacts it.
type AuditEntry struct {
	TraceID   string
	Prompt    string
	Reason    string
	Stage     string
	Timestamp time.Time
}

// AuditRing is a process-wide append-only ring. When full, the oldest
// entry is evicted. All methods serialize on one mutex.
type AuditRing struct {
	mu      sync.Mutex
	entries [AuditCapacity]*AuditEntry
	next    int
	count   int
}

// NewAuditRing creates an empty ring.
func NewAuditRing() *AuditRing {
	return &AuditRing{}
}

// Append records an entry, evicting the oldest when at capacity.
func (r *AuditRing) Append(entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = &entry
	r.next = (r.next + 1) % AuditCapacity
	if r.count < AuditCapacity {
		r.count++
	}
}

// Len reports the number of retained entries.
func (r *AuditRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Recent returns up to n entries, newest first.
func (r *AuditRing) Recent(n int) []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	out := make([]AuditEntry, 0, n)
	for off := 1; off <= n; off++ {
		idx := (r.next - off + AuditCapacity) % AuditCapacity
		out = append(out, *r.entries[idx])
	}
	return out
}
