package activity

import "time"

// seenSet is an insertion-ordered set of trade ids with a fixed capacity.
// When full, the oldest id is evicted and its timestamp raises the
// watermark: trades at or before the watermark are treated as already seen.
type seenSet struct {
	capacity  int
	ids       map[string]struct{}
	order     []seenEntry // ring buffer
	head      int
	watermark time.Time
}

type seenEntry struct {
	id string
	ts time.Time
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = 10000
	}
	return &seenSet{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
		order:    make([]seenEntry, 0, capacity),
	}
}

func (s *seenSet) has(id string, ts time.Time) bool {
	if _, ok := s.ids[id]; ok {
		return true
	}
	return !s.watermark.IsZero() && !ts.After(s.watermark)
}

func (s *seenSet) add(id string, ts time.Time) {
	if _, ok := s.ids[id]; ok {
		return
	}
	if len(s.order) < s.capacity {
		s.order = append(s.order, seenEntry{id, ts})
	} else {
		old := s.order[s.head]
		delete(s.ids, old.id)
		if old.ts.After(s.watermark) {
			s.watermark = old.ts
		}
		s.order[s.head] = seenEntry{id, ts}
		s.head = (s.head + 1) % s.capacity
	}
	s.ids[id] = struct{}{}
}

func (s *seenSet) len() int {
	return len(s.ids)
}
