package detection

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

const (
	// SignatureTTL suppresses a repeat of the same (method, domain) detection
	SignatureTTL = 10 * time.Second
	// MouseReportInterval is how much sampled time is aggregated before a
	// mouse-tracking analysis runs
	MouseReportInterval = 2 * time.Second
	// pruneAfter is the largest window in use; older state is dropped
	pruneAfter = StorageWindow
	// pruneSize forces a prune once the signature table grows past it
	pruneSize = 1024
)

type signature struct {
	method Method
	domain string
}

type mouseWindow struct {
	events    int
	elapsedMS float64
	updated   time.Time
}

// Throttler deduplicates detections and keeps the rolling windows for the
// rate based analyzers. State is per instance; hosts create one per tab.
type Throttler struct {
	mu         sync.Mutex
	signatures map[signature]time.Time
	storageOps map[string][]StorageOp
	mouse      map[string]*mouseWindow
	lastPrune  time.Time
}

// NewThrottler creates an empty throttler
func NewThrottler() *Throttler {
	return &Throttler{
		signatures: make(map[signature]time.Time),
		storageOps: make(map[string][]StorageOp),
		mouse:      make(map[string]*mouseWindow),
	}
}

// ShouldEmit reports whether a detection for method+domain may be emitted
// at now. An emission within the last SignatureTTL suppresses it; otherwise
// the signature is refreshed and true is returned.
func (t *Throttler) ShouldEmit(method Method, domain string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybePrune(now)

	key := signature{method: method, domain: domain}
	if last, ok := t.signatures[key]; ok {
		gap := now.Sub(last)
		if gap < 0 {
			gap = -gap
		}
		if gap < SignatureTTL {
			return false
		}
	}
	t.signatures[key] = now
	return true
}

// RecordStorageOp records one storage access for domain and returns the
// number of accesses inside the trailing StorageWindow. The window ends at
// the newest timestamp seen, so an op that arrives late is slotted in
// rather than rewinding the window. A zero op.At is stamped with now.
func (t *Throttler) RecordStorageOp(domain string, op StorageOp, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybePrune(now)

	if op.At.IsZero() {
		op.At = now
	}
	prev := t.storageOps[domain]
	newest := op.At
	if n := len(prev); n > 0 && prev[n-1].At.After(newest) {
		newest = prev[n-1].At
	}
	cutoff := newest.Add(-StorageWindow)

	ops := make([]StorageOp, 0, len(prev)+1)
	for _, p := range prev {
		if p.At.After(cutoff) {
			ops = append(ops, p)
		}
	}
	if op.At.After(cutoff) {
		i := sort.Search(len(ops), func(i int) bool { return ops[i].At.After(op.At) })
		ops = slices.Insert(ops, i, op)
	}
	t.storageOps[domain] = ops
	return len(ops)
}

// StorageOps returns a copy of the operations currently in domain's window
func (t *Throttler) StorageOps(domain string) []StorageOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]StorageOp(nil), t.storageOps[domain]...)
}

// RecordMouseSample adds a mousemove sample for domain. Once at least
// MouseReportInterval of samples has accumulated, it returns the aggregate
// and resets the accumulator. Samples with an unusable window are ignored.
func (t *Throttler) RecordMouseSample(domain string, count int, windowMS float64, now time.Time) (MouseEvidence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybePrune(now)

	if count < 0 || !(windowMS > 0) || math.IsInf(windowMS, 0) {
		return MouseEvidence{}, false
	}
	// a sample that already spans more than the accumulator can hold is
	// judged on its own
	if windowMS > float64(pruneAfter/time.Millisecond) {
		return MouseEvidence{Events: count, ElapsedMS: windowMS}, true
	}

	w, ok := t.mouse[domain]
	if !ok {
		w = &mouseWindow{}
		t.mouse[domain] = w
	}
	w.events += count
	w.elapsedMS += windowMS
	w.updated = now

	if w.elapsedMS < float64(MouseReportInterval/time.Millisecond) {
		return MouseEvidence{}, false
	}
	out := MouseEvidence{Events: w.events, ElapsedMS: w.elapsedMS}
	delete(t.mouse, domain)
	return out, true
}

// Len returns the number of live dedup signatures
func (t *Throttler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.signatures)
}

// Reset clears all state
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signatures = make(map[signature]time.Time)
	t.storageOps = make(map[string][]StorageOp)
	t.mouse = make(map[string]*mouseWindow)
	t.lastPrune = time.Time{}
}

// maybePrune drops state older than pruneAfter. Caller holds t.mu.
func (t *Throttler) maybePrune(now time.Time) {
	if len(t.signatures) <= pruneSize && now.Sub(t.lastPrune) < pruneAfter {
		return
	}
	t.lastPrune = now
	cutoff := now.Add(-pruneAfter)

	for key, last := range t.signatures {
		if last.Before(cutoff) {
			delete(t.signatures, key)
		}
	}
	for domain, ops := range t.storageOps {
		if len(ops) == 0 || ops[len(ops)-1].At.Before(cutoff) {
			delete(t.storageOps, domain)
		}
	}
	for domain, w := range t.mouse {
		if w.updated.Before(cutoff) {
			delete(t.mouse, domain)
		}
	}
}
