package devicescheduler

import (
	"encoding/json"
	"io"
)

// historyDump is the JSON shape of one dumped interval, matching the
// original's debug-build SIGINT handler (`dump_history` in
// scheduler.cpp), just through encoding/json instead of hand-rolled
// fprintf formatting (SPEC_FULL.md §11).
type historyDump struct {
	Container string  `json:"container"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// DumpHistory writes every live history entry as a JSON array to w,
// ordered oldest-start first. It is meant to be wired to a debug-only
// signal or flag in cmd/, never called from the scheduling hot path.
func (s *Scheduler) DumpHistory(w io.Writer) error {
	s.mu.Lock()
	dump := make([]historyDump, 0, s.history.Len())
	for e := s.history.entries.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*HistoryEntry)
		dump = append(dump, historyDump{Container: entry.Name, Start: entry.Start / 1e3, End: entry.End / 1e3})
	}
	s.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
