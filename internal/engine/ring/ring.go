// Package ring implements the fixed-capacity capture store. Insertion is
// O(1); when the buffer is full the oldest record is recycled under the
// overwrite policy, or the insertion is rejected under stop-on-full. Every
// sequence number ever lost is accounted for by an explicit overflow marker
// on drain, never silently skipped.
package ring

import (
	"fmt"
	"sync"

	"PCIeSpectra/internal/model"
)

// Policy selects the full-buffer behavior.
type Policy uint8

const (
	// Overwrite recycles the oldest record to make room (bus analyzer
	// default: keep the newest window around the trigger).
	Overwrite Policy = iota
	// StopOnFull rejects insertions past capacity and raises an overflow
	// event instead of overwriting.
	StopOnFull
)

// String returns the config/API spelling of the policy.
func (p Policy) String() string {
	if p == StopOnFull {
		return "stop-on-full"
	}
	return "overwrite"
}

// Ring is the capture buffer for one session. Sequence numbers are assigned
// here, at acceptance, so upstream ignores never create gaps.
type Ring struct {
	mu       sync.Mutex
	records  []*model.TLPRecord
	head     int // next write position
	count    int
	policy   Policy
	nextSeq  uint64
	dropped  uint64 // evicted under Overwrite
	rejected uint64 // refused under StopOnFull

	// Lost sequence ranges, zero when empty. Evictions always take the
	// oldest record, so the evicted range stays contiguous and precedes the
	// retained window; rejections refuse the newest, so their range follows
	// it.
	evictFirst, evictLast uint64
	rejFirst, rejLast     uint64
}

// New creates a ring with the given capacity and overflow policy.
func New(capacity int, policy Policy) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be > 0, got %d", capacity)
	}
	return &Ring{
		records: make([]*model.TLPRecord, capacity),
		policy:  policy,
		nextSeq: 1,
	}, nil
}

// Insert stores the record, stamping its sequence number. It returns the
// assigned sequence number and whether the record was accepted; a false
// return means the stop-on-full policy rejected it and the caller should
// raise an overflow event.
func (r *Ring) Insert(rec *model.TLPRecord) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq
	r.nextSeq++

	if r.count == len(r.records) {
		if r.policy == StopOnFull {
			r.rejected++
			if r.rejFirst == 0 {
				r.rejFirst = seq
			}
			r.rejLast = seq
			return seq, false
		}
		// Recycle the oldest record.
		tail := r.tail()
		evicted := r.records[tail]
		r.records[tail] = nil
		r.count--
		r.dropped++
		if r.evictFirst == 0 {
			r.evictFirst = evicted.Seq
		}
		r.evictLast = evicted.Seq
	}

	rec.Seq = seq
	r.records[r.head] = rec
	r.head = (r.head + 1) % len(r.records)
	r.count++
	return seq, true
}

func (r *Ring) tail() int {
	return (r.head - r.count + len(r.records)) % len(r.records)
}

// Drain returns all buffered entries in sequence order, bracketed by
// overflow markers covering exactly the evicted and rejected ranges. The
// caller must have stopped intake first; the session controller enforces
// that by only draining in the draining state.
func (r *Ring) Drain() []*model.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*model.Entry, 0, r.count+2)
	if r.evictFirst != 0 {
		entries = append(entries, &model.Entry{
			Kind:     model.EntryOverflow,
			GapFirst: r.evictFirst,
			GapLast:  r.evictLast,
		})
	}
	for i := 0; i < r.count; i++ {
		entries = append(entries, &model.Entry{
			Kind:   model.EntryRecord,
			Record: r.records[(r.tail()+i)%len(r.records)],
		})
	}
	if r.rejFirst != 0 {
		entries = append(entries, &model.Entry{
			Kind:     model.EntryOverflow,
			GapFirst: r.rejFirst,
			GapLast:  r.rejLast,
		})
	}
	return entries
}

// Clear empties the ring and resets sequence assignment, leaving the ring
// ready for the next session.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		r.records[i] = nil
	}
	r.head, r.count = 0, 0
	r.nextSeq = 1
	r.dropped, r.rejected = 0, 0
	r.evictFirst, r.evictLast = 0, 0
	r.rejFirst, r.rejLast = 0, 0
}

// Len returns the number of buffered records.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity returns the configured capacity.
func (r *Ring) Capacity() int {
	return len(r.records)
}

// Policy returns the configured overflow policy.
func (r *Ring) Policy() Policy {
	return r.policy
}

// Counters returns the dropped and rejected record counts.
func (r *Ring) Counters() (dropped, rejected uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped, r.rejected
}
