package devicescheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_PruneDropsEntriesOutsideWindow(t *testing.T) {
	h := NewHistory()
	h.Record("a", 0, 100)   // ends at 100
	h.Record("a", 200, 100) // ends at 300

	h.Prune(250) // window start 250: first entry (end=100) must go
	assert.Equal(t, 1, h.Len())

	earliest, ok := h.EarliestEnd()
	assert.True(t, ok)
	assert.Equal(t, 300.0, earliest)
}

func TestHistory_UsageSumsClippedToWindow(t *testing.T) {
	h := NewHistory()
	h.Record("a", -50, 100) // start=-50, end=50
	h.Record("a", 60, 40)   // start=60, end=100

	usage := h.Usage(0) // window starts at 0
	// first entry contributes 50-0=50, second contributes 100-60=40
	assert.InDelta(t, 90.0, usage["a"], 1e-9)
}

func TestHistory_AdjustReturnAdjustsOnlyMostRecentMatchingEntry(t *testing.T) {
	h := NewHistory()
	h.Record("a", 0, 100)   // end=100 (oldest)
	h.Record("b", 50, 100)  // end=150
	h.Record("a", 150, 100) // end=250 (most recent for "a")

	h.AdjustReturn("a", 400, 20) // now=400, overuse=20 -> min(400, 250+20)=270
	usage := h.Usage(0)

	// "a" total should be (100-0) + (270-150) = 220
	assert.InDelta(t, 220.0, usage["a"], 1e-9)
	// "b" entry untouched
	assert.InDelta(t, 100.0, usage["b"], 1e-9)
}

func TestHistory_AdjustReturnCapsAtNow(t *testing.T) {
	h := NewHistory()
	h.Record("a", 0, 100) // end=100
	entry := h.AdjustReturn("a", 105, 1000)
	assert.Equal(t, 105.0, entry.End)
}
