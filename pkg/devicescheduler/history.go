package devicescheduler

import "container/list"

// History is the ordered sequence of past execution intervals, pruned to a
// sliding window. It is not safe for concurrent use; callers hold
// Scheduler.mu while touching it.
type History struct {
	entries *list.List // of *HistoryEntry, ordered by Start ascending
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{entries: list.New()}
}

// Record appends a new interval {name, start, start+quota}. HistoryEntries
// grow monotonically in Start, per spec.
func (h *History) Record(name string, start, quota float64) *HistoryEntry {
	e := &HistoryEntry{Name: name, Start: start, End: start + quota}
	h.entries.PushBack(e)
	return e
}

// AdjustReturn implements the REQ_QUOTA overuse adjustment: scanning in
// reverse for the first entry matching name (i.e. the client's most recent
// grant) and extending its End by overuse, capped at now. Returns the
// adjusted entry, or nil if the client has no history yet.
func (h *History) AdjustReturn(name string, now, overuse float64) *HistoryEntry {
	for e := h.entries.Back(); e != nil; e = e.Prev() {
		entry := e.Value.(*HistoryEntry)
		if entry.Name == name {
			entry.End = min(now, entry.End+overuse)
			return entry
		}
	}
	return nil
}

// Prune removes every entry whose End falls before windowStart, per
// invariant I3 (end_ms >= now - WINDOW_SIZE survives).
func (h *History) Prune(windowStart float64) {
	for e := h.entries.Front(); e != nil; {
		next := e.Next()
		if e.Value.(*HistoryEntry).End < windowStart {
			h.entries.Remove(e)
		}
		e = next
	}
}

// Usage returns, for each client name with history inside [windowStart, now],
// the sum of (end - max(start, windowStart)) across its entries.
func (h *History) Usage(windowStart float64) map[string]float64 {
	usage := make(map[string]float64)
	for e := h.entries.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*HistoryEntry)
		start := entry.Start
		if start < windowStart {
			start = windowStart
		}
		usage[entry.Name] += entry.End - start
	}
	return usage
}

// EarliestEnd returns the smallest End among current entries and whether
// any entry exists.
func (h *History) EarliestEnd() (float64, bool) {
	front := h.entries.Front()
	if front == nil {
		return 0, false
	}
	earliest := front.Value.(*HistoryEntry).End
	for e := front.Next(); e != nil; e = e.Next() {
		if end := e.Value.(*HistoryEntry).End; end < earliest {
			earliest = end
		}
	}
	return earliest, true
}

// Len reports the number of live entries, mainly for tests and metrics.
func (h *History) Len() int { return h.entries.Len() }

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
