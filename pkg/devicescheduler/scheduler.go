package devicescheduler

import (
	"container/list"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"KubeShare/pkg/devicescheduler/protocol"
)

// maxSendRetry and sendRetryBackoff implement spec.md §4.2/§7's reply retry
// policy: a small bounded number of attempts at a short fixed interval,
// after which the reply is dropped and the error logged.
const (
	maxSendRetry     = 5
	sendRetryBackoff = 3 * time.Millisecond
)

// idleSelectionWaitMs bounds how long selectCandidates sleeps when every
// queued candidate is over its ceiling (spec.md §4.4 step 3).
const idleSelectionWaitMs = 2000.0

// Scheduler is the per-GPU scheduling daemon: sliding-window usage
// accounting, candidate admission/selection, adaptive quota, token
// lifecycle, and memory-limit bookkeeping (spec.md §1, §4, §5). A single
// Scheduler instance manages exactly one device, per the non-goals.
//
// Every mutable field below candidates/tokens/smOccupied/history is
// protected by mu, matching spec.md §5's "single coarse mutex paired with
// a condition variable." Go's sync.Cond has no monotonic timed-wait, so
// the condition variable is played by wake (a buffered signal channel)
// combined with Clock-driven timers in waitForSignal/waitForNextEvent —
// see SPEC_FULL.md §7 for the rationale.
type Scheduler struct {
	mu sync.Mutex

	registry   *Registry
	history    *History
	candidates *list.List // of *Candidate, FIFO arrival order
	tokens     map[string]*Candidate
	smOccupied int

	windowSize float64
	clock      *Clock
	log        *logrus.Logger

	randomizedQuota bool
	rng             *rand.Rand

	wake chan struct{}
}

// Option configures optional Scheduler behavior.
type Option func(*Scheduler)

// WithRandomizedQuota enables the original's RANDOM_QUOTA jitter: every
// granted quota is multiplied by a uniform factor in [0.4, 1.0) before
// being recorded and sent (SPEC_FULL.md §11).
func WithRandomizedQuota(enabled bool) Option {
	return func(s *Scheduler) { s.randomizedQuota = enabled }
}

// NewScheduler builds a Scheduler around an already-loaded Registry.
func NewScheduler(registry *Registry, windowSize float64, clk *Clock, log *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:   registry,
		history:    NewHistory(),
		candidates: list.New(),
		tokens:     make(map[string]*Candidate),
		windowSize: windowSize,
		clock:      clk,
		log:        log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// signal wakes the daemon loop, mirroring pthread_cond_signal.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SMOccupied reports the current sum of sm_partition over live tokens.
func (s *Scheduler) SMOccupied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.smOccupied
}

// TokenCount reports the number of outstanding tokens.
func (s *Scheduler) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// CandidateCount reports the number of queued (not yet granted) candidates.
func (s *Scheduler) CandidateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates.Len()
}

// HandleQuotaRequest implements the REQ_QUOTA request handler behavior
// (spec.md §4.2): adjust the client's most recent history entry by
// overuse, store the reported burst, and enqueue a Candidate. If the
// client currently holds a token, this is an early return (spec.md §4.5);
// the stale token is removed and its SM share refunded immediately so the
// client is eligible again within one scheduling iteration.
func (s *Scheduler) HandleQuotaRequest(sock clientSocket, name string, reqID uint64, overuse, burst float64) {
	ci := s.registry.Get(name)
	if ci == nil {
		s.log.Warnf("unknown client %q sent REQ_QUOTA, dropping", name)
		return
	}

	now := s.clock.NowMs()

	s.mu.Lock()
	if entry := s.history.AdjustReturn(name, now, overuse); entry != nil {
		ci.latestOveruse = overuse
		ci.latestActualUsage = entry.End - entry.Start
	}
	ci.SetBurst(burst)
	if prior, ok := s.tokens[name]; ok {
		s.log.Debugf("%s returned early, refunding sm_partition=%d", name, ci.SMPartition)
		s.smOccupied -= ci.SMPartition
		delete(s.tokens, name)
		_ = prior
	}
	s.candidates.PushBack(&Candidate{Socket: sock, Name: name, ReqID: reqID, ArrivedMs: now})
	s.mu.Unlock()

	s.signal()
}

// HandleMemLimit implements REQ_MEM_LIMIT: an immediate reply with the
// client's current usage and limit.
func (s *Scheduler) HandleMemLimit(name string) (used, limit uint64, ok bool) {
	ci := s.registry.Get(name)
	if ci == nil {
		return 0, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ci.MemUsed, ci.MemLimit, true
}

// HandleMemUpdate implements REQ_MEM_UPDATE's allocate/free verdict rules
// (spec.md §4.2), preserving invariant I5 (0 <= mem_used <= mem_limit).
func (s *Scheduler) HandleMemUpdate(name string, bytes uint64, isAllocate bool) (verdict, ok bool) {
	ci := s.registry.Get(name)
	if ci == nil {
		return false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if isAllocate {
		return ci.TryAllocate(bytes), true
	}
	return ci.TryFree(bytes), true
}

// Run is the scheduler daemon loop (spec.md §4.4). It blocks until stopCh
// is closed. The daemon is expected to run indefinitely; a closed stopCh
// is the only clean exit path (SPEC_FULL.md §3's extension over the
// original's process-termination-only model).
func (s *Scheduler) Run(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		s.mu.Lock()
		empty := s.candidates.Len() == 0
		s.mu.Unlock()

		if empty {
			if !s.waitForSignal(stopCh) {
				return
			}
			continue
		}

		s.expireTokens()

		selected, stopped := s.selectCandidates(stopCh)
		if stopped {
			return
		}

		s.issueGrants(selected)

		if !s.waitForNextEvent(stopCh) {
			return
		}
	}
}

// waitForSignal blocks until a candidate arrives or stopCh closes.
func (s *Scheduler) waitForSignal(stopCh <-chan struct{}) bool {
	select {
	case <-s.wake:
		return true
	case <-stopCh:
		return false
	}
}

// expireTokens removes every token whose expiry has passed, refunding its
// sm_partition (spec.md §4.4 step 2 / §4.5 timeout path).
func (s *Scheduler) expireTokens() {
	now := s.clock.NowMs()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, tok := range s.tokens {
		if tok.ExpiryMs <= now {
			ci := s.registry.Get(name)
			if ci != nil {
				s.smOccupied -= ci.SMPartition
			}
			delete(s.tokens, name)
			s.log.Debugf("%s's token expired, sm_occupied=%d", name, s.smOccupied)
		}
	}
}

// earliestExpiry returns the smallest ExpiryMs among live tokens.
func (s *Scheduler) earliestExpiry() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := true
	var earliest float64
	for _, tok := range s.tokens {
		if first || tok.ExpiryMs < earliest {
			earliest = tok.ExpiryMs
			first = false
		}
	}
	return earliest, !first
}

type validCandidate struct {
	elem      *list.Element
	candidate *Candidate
	missing   float64
	remaining float64
}

// selectCandidates implements spec.md §4.4's selection algorithm: prune and
// account the sliding window, filter to candidates under their ceiling,
// rank by the reconstructed schd_priority order, then admit in that order
// while packing into the remaining SM capacity. It loops internally,
// sleeping as directed by the spec, until it has a non-empty admitted set
// or stopCh closes.
func (s *Scheduler) selectCandidates(stopCh <-chan struct{}) (admitted []*Candidate, stopped bool) {
	for {
		now := s.clock.NowMs()
		window := s.windowSize
		windowStart := now - s.windowSize
		if windowStart < 0 {
			windowStart = 0
			window = now
		}

		s.mu.Lock()
		s.history.Prune(windowStart)
		usage := s.history.Usage(windowStart)

		var valid []validCandidate
		waitMs := idleSelectionWaitMs
		for e := s.candidates.Front(); e != nil; e = e.Next() {
			c := e.Value.(*Candidate)
			ci := s.registry.Get(c.Name)
			if ci == nil {
				continue
			}
			limit := ci.MaxFraction * window
			require := ci.MinFraction * window
			u := usage[c.Name]
			missing := require - u
			remaining := limit - u
			if remaining > 0 {
				valid = append(valid, validCandidate{elem: e, candidate: c, missing: missing, remaining: remaining})
			} else if -remaining < waitMs {
				waitMs = -remaining
			}
		}
		s.mu.Unlock()

		if len(valid) == 0 {
			if !s.sleep(waitMs, stopCh) {
				return nil, true
			}
			continue
		}

		sort.SliceStable(valid, func(i, j int) bool { return schdPriority(valid[i], valid[j]) })

		s.mu.Lock()
		occupied := s.smOccupied
		var admittedElems []*list.Element
		for _, vc := range valid {
			ci := s.registry.Get(vc.candidate.Name)
			if ci == nil {
				continue
			}
			if occupied+ci.SMPartition <= SMGlobalLimit {
				admitted = append(admitted, vc.candidate)
				admittedElems = append(admittedElems, vc.elem)
				occupied += ci.SMPartition
			}
		}
		for _, e := range admittedElems {
			s.candidates.Remove(e)
		}
		s.mu.Unlock()

		if len(admitted) == 0 {
			s.mu.Lock()
			earliestEnd, ok := s.history.EarliestEnd()
			s.mu.Unlock()
			waitMs2 := idleSelectionWaitMs
			if ok {
				waitMs2 = earliestEnd - windowStart
				if waitMs2 < 0 {
					waitMs2 = 0
				}
			}
			if !s.sleep(waitMs2, stopCh) {
				return nil, true
			}
			continue
		}

		return admitted, false
	}
}

// schdPriority is the reconstructed total order from spec.md §4.4: higher
// missing first; among missing<=0 candidates, higher remaining first;
// ties broken by earlier arrival.
func schdPriority(a, b validCandidate) bool {
	if a.missing != b.missing {
		return a.missing > b.missing
	}
	if a.missing <= 0 && b.missing <= 0 && a.remaining != b.remaining {
		return a.remaining > b.remaining
	}
	return a.candidate.ArrivedMs < b.candidate.ArrivedMs
}

// issueGrants sends each selected candidate its quota and installs a token
// (spec.md §4.4 step 4).
func (s *Scheduler) issueGrants(selected []*Candidate) {
	for _, c := range selected {
		ci := s.registry.Get(c.Name)
		if ci == nil {
			continue
		}

		s.mu.Lock()
		quota := ci.NextQuota()
		if s.randomizedQuota {
			quota *= 0.4 + s.rng.Float64()*0.6
		}
		now := s.clock.NowMs()
		s.history.Record(c.Name, now, quota)
		s.mu.Unlock()

		s.log.Debugf("select %s, waiting time: %.3fms, quota: %.3fms", c.Name, now-c.ArrivedMs, quota)

		sendWithRetry(c.Socket, encodeQuotaResponse(c.ReqID, quota), s.log, c.Name)

		c.ExpiryMs = now + quota
		s.mu.Lock()
		if prior, ok := s.tokens[c.Name]; ok {
			// defends invariant I2 if a grant races a second enqueue for the
			// same client between selection passes.
			if priorCi := s.registry.Get(prior.Name); priorCi != nil {
				s.smOccupied -= priorCi.SMPartition
			}
		}
		s.tokens[c.Name] = c
		s.smOccupied += ci.SMPartition
		s.mu.Unlock()
	}
}

// waitForNextEvent implements spec.md §4.4 step 5: wait for the earliest
// token expiry, waking early on a signal only when a queued candidate is
// either an early return (already reflected in smOccupied by
// HandleQuotaRequest) or would now fit in the remaining SM capacity.
func (s *Scheduler) waitForNextEvent(stopCh <-chan struct{}) bool {
	for {
		earliest, ok := s.earliestExpiry()
		if !ok {
			// no outstanding tokens; nothing to time out on, just wait for a
			// new arrival.
			return s.waitForSignal(stopCh)
		}

		now := s.clock.NowMs()
		timer := s.clock.After(MsToDuration(earliest - now))

		select {
		case <-stopCh:
			return false
		case <-timer:
			return true
		case <-s.wake:
			if s.candidateFitsCapacity() {
				return true
			}
			// not yet: recompute the deadline and keep waiting.
			continue
		}
	}
}

// candidateFitsCapacity reports whether any queued candidate could be
// admitted into the device's remaining SM capacity right now.
func (s *Scheduler) candidateFitsCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.candidates.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Candidate)
		ci := s.registry.Get(c.Name)
		if ci != nil && s.smOccupied+ci.SMPartition <= SMGlobalLimit {
			return true
		}
	}
	return false
}

// sleep blocks for ms milliseconds (per the Clock), waking early on a
// signal or stopCh. Returns false only if stopCh closed.
func (s *Scheduler) sleep(ms float64, stopCh <-chan struct{}) bool {
	timer := s.clock.After(MsToDuration(ms))
	select {
	case <-timer:
		return true
	case <-s.wake:
		return true
	case <-stopCh:
		return false
	}
}

func encodeQuotaResponse(reqID uint64, quotaMs float64) []byte {
	return protocol.EncodeResponse(protocol.Response{ReqID: reqID, Kind: protocol.ReqQuota, QuotaMs: quotaMs})
}

func sendWithRetry(sock clientSocket, buf []byte, log *logrus.Logger, clientName string) {
	var err error
	for attempt := 0; attempt < maxSendRetry; attempt++ {
		if _, err = sock.Write(buf); err == nil {
			return
		}
		time.Sleep(sendRetryBackoff)
	}
	log.Errorf("%s: failed to send reply after %d attempts: %v", clientName, maxSendRetry, err)
}
