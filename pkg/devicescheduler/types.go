// Package devicescheduler is the per-GPU scheduling engine: sliding-window
// usage accounting, candidate selection under an SM-capacity constraint,
// adaptive quota estimation, token lifecycle, and memory-limit bookkeeping
// for one device's clients. It knows nothing about Kubernetes; it is
// driven by a TCP listener and a resource-config file, same as the
// per-device daemon it replaces.
package devicescheduler

import "math"

// SMGlobalLimit is the device's total streaming-multiprocessor capacity,
// expressed as a percentage. The sum of sm_partition over all outstanding
// tokens must never exceed it.
const SMGlobalLimit = 100

// updateRate is the smoothing factor alpha in the adaptive quota formula.
const updateRate = 0.5

// ClientInfo holds the registry record and live accounting state for one
// named client. A client has exactly one ClientInfo at a time; reloading
// the resource-config file discards and replaces it wholesale (see
// Registry.Load).
type ClientInfo struct {
	Name string

	BaseQuota float64 // ms, static fallback quota
	MinQuota  float64 // ms
	MaxQuota  float64 // ms, == MinFraction * WindowSize at load time

	MinFraction float64 // required share of the window, 0..1
	MaxFraction float64 // permitted share of the window, 0..1

	SMPartition int // 0..100, percent of device SM capacity

	MemLimit uint64
	MemUsed  uint64

	quota             float64
	burst             float64
	latestOveruse     float64
	latestActualUsage float64
}

// NewClientInfo builds a ClientInfo the way the registry loader does:
// MaxQuota is derived from MinFraction and the configured window, and
// the quota starts out at the base quota until a burst is observed.
func NewClientInfo(name string, baseQuota, minQuota, windowSize, minFraction, maxFraction float64, smPartition int, memLimit uint64) *ClientInfo {
	return &ClientInfo{
		Name:        name,
		BaseQuota:   baseQuota,
		MinQuota:    minQuota,
		MaxQuota:    minFraction * windowSize,
		MinFraction: minFraction,
		MaxFraction: maxFraction,
		SMPartition: smPartition,
		MemLimit:    memLimit,
		quota:       baseQuota,
	}
}

// SetBurst records the client's self-reported recent kernel burst estimate.
func (c *ClientInfo) SetBurst(burst float64) { c.burst = burst }

// Burst returns the last reported burst estimate.
func (c *ClientInfo) Burst() float64 { return c.burst }

// NextQuota computes the adaptive quota per spec:
//
//	q_new = clamp(burst*alpha + q_prev*(1-alpha), MinQuota, MaxQuota)
//
// with a fallback to BaseQuota when burst is effectively zero.
func (c *ClientInfo) NextQuota() float64 {
	if c.burst < 1e-9 {
		c.quota = c.BaseQuota
		return c.quota
	}
	q := c.burst*updateRate + c.quota*(1-updateRate)
	q = math.Max(q, c.MinQuota)
	q = math.Min(q, c.MaxQuota)
	c.quota = q
	return c.quota
}

// Quota returns the last computed quota without recomputing it.
func (c *ClientInfo) Quota() float64 { return c.quota }

// LatestTelemetry returns the overuse and actual-usage figures recorded on
// the client's last completed grant: the overuse it reported on return, and
// the length of that grant's history interval after the overuse adjustment.
// Both are zero until the client returns from a grant.
func (c *ClientInfo) LatestTelemetry() (overuse, actualUsage float64) {
	return c.latestOveruse, c.latestActualUsage
}

// TryAllocate applies REQ_MEM_UPDATE's allocate verdict rule and mutates
// MemUsed on success.
func (c *ClientInfo) TryAllocate(bytes uint64) bool {
	if c.MemUsed+bytes > c.MemLimit {
		return false
	}
	c.MemUsed += bytes
	return true
}

// TryFree applies REQ_MEM_UPDATE's free verdict rule and mutates MemUsed
// on success.
func (c *ClientInfo) TryFree(bytes uint64) bool {
	if c.MemUsed < bytes {
		return false
	}
	c.MemUsed -= bytes
	return true
}

// HistoryEntry is a recorded execution interval for one client, measured in
// milliseconds since the scheduler started.
type HistoryEntry struct {
	Name  string
	Start float64
	End   float64
}

// Candidate is a pending or granted quota request.
type Candidate struct {
	Socket    clientSocket
	Name      string
	ReqID     uint64
	ArrivedMs float64

	// ExpiryMs is only meaningful once the candidate has been promoted to
	// a token; it is unset (zero) while still queued.
	ExpiryMs float64
}

// clientSocket is the minimal surface devicescheduler needs from a
// connection in order to send a REQ_QUOTA reply. It is satisfied by
// net.Conn and by fakes in tests.
type clientSocket interface {
	Write(b []byte) (int, error)
}
