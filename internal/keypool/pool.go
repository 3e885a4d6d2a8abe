package keypool

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nullbridge/llmgate/internal/metrics"
	"github.com/nullbridge/llmgate/pkg/apierr"
)

// Config carries the tunables from spec §6 that govern cooldown arithmetic
// and the stuck-lease sweep.
type Config struct {
	FailureThreshold     int
	BaseCooldown         time.Duration
	MaxCooldown          time.Duration
	RateLimitDefaultWait time.Duration
	AcquireTimeout       time.Duration
	StuckTimeout         time.Duration
	SweepInterval        time.Duration
}

// Persister is the subset of internal/store's Store interface the pool needs
// to stay durable. Kept narrow so the pool can be tested without a real
// backend.
type Persister interface {
	UpsertKey(ctx context.Context, k Key) error
	DeleteKey(ctx context.Context, identifier string) error
}

// Pool is the single in-process authority over upstream key state
// (spec §4.2, §5 "KeyPool: single in-process authority"). All reads and
// mutations happen under mu, matching routers/base.go's single-lock
// discipline generalized from deployment stats to credential leases.
type Pool struct {
	cfg    Config
	store  Persister
	log    *slog.Logger

	mu      sync.Mutex
	byID    map[string]*Key
	ring    []string // ordered identifiers, fixed order for round-robin
	cursor  int
	waiters []chan struct{} // FIFO queue of parties blocked in Acquire

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New constructs a Pool from the keys loaded from the Store, applying the
// load-time reclamation rules from spec §4.2 ("Initial state on load").
func New(cfg Config, store Persister, log *slog.Logger, loaded []Key) *Pool {
	p := &Pool{
		cfg:       cfg,
		store:     store,
		log:       log,
		byID:      make(map[string]*Key, len(loaded)),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	now := time.Now()
	for i := range loaded {
		k := loaded[i]
		switch k.State {
		case StateLeased:
			// The process that held this lease is gone; reclaim it.
			k.State = StateActive
			k.InUseSince = time.Time{}
		case StateCooling:
			if !k.CooldownUntil.After(now) {
				k.State = StateActive
				k.CooldownUntil = time.Time{}
			}
		}
		kk := k
		p.byID[k.Identifier] = &kk
		p.ring = append(p.ring, k.Identifier)
	}
	p.reportStateLocked()
	go p.sweepLoop()
	return p
}

// Close stops the stuck-lease sweep goroutine.
func (p *Pool) Close() {
	close(p.sweepStop)
	<-p.sweepDone
}

// Acquire selects an Active key in round-robin order, transitions it to
// Leased, and returns a lease handle. It blocks up to cfg.AcquireTimeout
// (or ctx's deadline, if shorter) for a key to become available, serving
// waiters FIFO as leases return (spec §4.2, §4.3).
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	for {
		p.mu.Lock()
		if id, ok := p.tryLeaseLocked(); ok {
			k := p.byID[id]
			p.reportStateLocked()
			p.mu.Unlock()
			return &Lease{Identifier: id, Secret: k.Secret, Brief: k.Brief, pool: p}, nil
		}
		wake := make(chan struct{})
		p.waiters = append(p.waiters, wake)
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.removeWaiter(wake)
			return nil, ErrNoKeyAvailable
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
			p.removeWaiter(wake)
			return nil, ErrNoKeyAvailable
		case <-ctx.Done():
			timer.Stop()
			p.removeWaiter(wake)
			return nil, ErrNoKeyAvailable
		}
	}
}

// tryLeaseLocked walks the ring once starting at cursor, lazily
// reactivating any Cooling key whose cooldown has elapsed, and leases the
// first Active key found — plain round-robin fairness (spec §4.2
// "Tie-break ... round-robin over the ring position"). The cursor then
// moves to the position after the leased key. FailureCount is not
// consulted: selection depends on ring position and state only.
func (p *Pool) tryLeaseLocked() (string, bool) {
	n := len(p.ring)
	if n == 0 {
		return "", false
	}
	now := time.Now()

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		id := p.ring[idx]
		k := p.byID[id]
		if k.State == StateCooling && !k.CooldownUntil.After(now) {
			k.State = StateActive
			k.CooldownUntil = time.Time{}
		}
		if k.State != StateActive {
			continue
		}
		k.State = StateLeased
		k.InUseSince = now
		p.persistLocked(k)
		p.cursor = (idx + 1) % n
		return id, true
	}
	return "", false
}

// reportStateLocked recomputes the per-state key counts and pushes them to
// the KeyPool gauges (spec §8's observability of key state distribution).
// Called under mu after every state transition.
func (p *Pool) reportStateLocked() {
	var active, leased, cooling int
	for _, k := range p.byID {
		switch k.State {
		case StateActive:
			active++
		case StateLeased:
			leased++
		case StateCooling:
			cooling++
		}
	}
	metrics.SetKeyPoolState(active, leased, cooling)
}

func (p *Pool) removeWaiter(ch chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) wakeOneWaiterLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	close(w)
}

// returnKey applies the Leased->{Active,Cooling} transition rules of
// spec §4.2 and wakes the next FIFO waiter if the key became Active.
func (p *Pool) returnKey(identifier string, outcome ReturnOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.reportStateLocked()

	k, ok := p.byID[identifier]
	if !ok {
		return
	}

	if outcome.Success {
		k.FailureCount = 0
		k.CooldownEntryCount = 0
		k.CurrentCooldownSecs = 0
		k.CooldownUntil = time.Time{}
		k.State = StateActive
		k.InUseSince = time.Time{}
		p.persistLocked(k)
		p.wakeOneWaiterLocked()
		return
	}

	k.FailureCount++
	forceCooldown := outcome.Class == FailureAuthRejected
	entersCooldown := forceCooldown || (outcome.Class != FailureTransient && k.FailureCount >= p.cfg.FailureThreshold)

	if entersCooldown {
		k.CooldownEntryCount++
		secs := float64(p.cfg.BaseCooldown) * math.Pow(2, float64(k.CooldownEntryCount-1))
		cooldown := time.Duration(math.Min(secs, float64(p.cfg.MaxCooldown)))
		if outcome.RetryAfter > cooldown {
			cooldown = outcome.RetryAfter
		}
		k.CurrentCooldownSecs = cooldown.Seconds()
		k.CooldownUntil = time.Now().Add(cooldown)
		k.State = StateCooling
		k.InUseSince = time.Time{}
		p.persistLocked(k)
		return
	}

	// Soft failure or transient: back to Active with the incremented
	// failure count but no cooldown entry.
	k.State = StateActive
	k.InUseSince = time.Time{}
	p.persistLocked(k)
	p.wakeOneWaiterLocked()
}

// persistLocked durably stores k's new state before the caller proceeds.
// A persistence failure is logged as critical but the in-memory lease is
// still released and the key is marked Cooling for safety (spec §4.2
// "Failure semantics").
func (p *Pool) persistLocked(k *Key) {
	if p.store == nil {
		return
	}
	if err := p.store.UpsertKey(context.Background(), *k); err != nil {
		p.log.Error("keypool: persistence failure, forcing key into cooldown", "identifier", k.Identifier, "error", err)
		k.State = StateCooling
		if k.CurrentCooldownSecs == 0 {
			k.CurrentCooldownSecs = p.cfg.BaseCooldown.Seconds()
		}
		k.CooldownUntil = time.Now().Add(time.Duration(k.CurrentCooldownSecs) * time.Second)
	}
}

// Reset forces the identified key back to Active with cleared counters
// (spec §4.2 "Administrative").
func (p *Pool) Reset(identifier string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.reportStateLocked()
	k, ok := p.byID[identifier]
	if !ok {
		return ErrUnknownKey
	}
	k.State = StateActive
	k.FailureCount = 0
	k.CooldownEntryCount = 0
	k.CurrentCooldownSecs = 0
	k.CooldownUntil = time.Time{}
	k.InUseSince = time.Time{}
	p.persistLocked(k)
	p.wakeOneWaiterLocked()
	return nil
}

// ResetAll applies Reset to every key in the pool.
func (p *Pool) ResetAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		_ = p.Reset(id)
	}
}

// Add registers a new key and appends it to the ring.
func (p *Pool) Add(k Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.reportStateLocked()
	if k.State == "" {
		k.State = StateActive
	}
	kk := k
	p.byID[k.Identifier] = &kk
	p.ring = append(p.ring, k.Identifier)
	p.persistLocked(&kk)
	p.wakeOneWaiterLocked()
}

// Delete removes a key. It refuses to remove a key that is currently Leased
// (spec §4.2 "rejected if currently Leased").
func (p *Pool) Delete(identifier string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.reportStateLocked()
	k, ok := p.byID[identifier]
	if !ok {
		return ErrUnknownKey
	}
	if k.State == StateLeased {
		return ErrKeyInUse
	}
	delete(p.byID, identifier)
	for i, id := range p.ring {
		if id == identifier {
			p.ring = append(p.ring[:i], p.ring[i+1:]...)
			break
		}
	}
	if p.store != nil {
		if err := p.store.DeleteKey(context.Background(), identifier); err != nil {
			p.log.Error("keypool: failed to delete key from store", "identifier", identifier, "error", err)
		}
	}
	return nil
}

// Status returns a snapshot of every key plus aggregate totals, copied
// under the lock per spec §5 "Status snapshots copy under the lock".
func (p *Pool) Status() StatusReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	report := StatusReport{Keys: make([]Snapshot, 0, len(p.ring))}
	for _, id := range p.ring {
		k := p.byID[id]
		remaining := 0.0
		if k.State == StateCooling {
			if d := k.CooldownUntil.Sub(now); d > 0 {
				remaining = d.Seconds()
			}
		}
		report.Keys = append(report.Keys, Snapshot{
			Identifier:            k.Identifier,
			Brief:                 k.Brief,
			State:                 k.State,
			CooldownSecsRemaining: remaining,
			FailureCount:          k.FailureCount,
			CooldownEntryCount:    k.CooldownEntryCount,
			CurrentCooldownSecs:   k.CurrentCooldownSecs,
		})
		report.TotalKeys++
		switch k.State {
		case StateActive:
			report.ActiveKeys++
		case StateLeased:
			report.LeasedKeys++
		case StateCooling:
			report.CoolingKeys++
		}
	}
	return report
}

// sweepLoop reclaims leases held longer than StuckTimeout (spec §4.2
// "Stuck-lease sweep").
func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	t := time.NewTicker(p.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-p.sweepStop:
			return
		case <-t.C:
			p.sweepOnce()
		}
	}
}

func (p *Pool) sweepOnce() {
	p.mu.Lock()
	now := time.Now()
	var reclaimed []string
	for id, k := range p.byID {
		if k.State == StateLeased && !k.InUseSince.IsZero() && now.Sub(k.InUseSince) > p.cfg.StuckTimeout {
			k.State = StateActive
			k.InUseSince = time.Time{}
			k.FailureCount++
			p.persistLocked(k)
			reclaimed = append(reclaimed, id)
		}
	}
	for range reclaimed {
		p.wakeOneWaiterLocked()
	}
	if len(reclaimed) > 0 {
		p.reportStateLocked()
	}
	p.mu.Unlock()
	for _, id := range reclaimed {
		p.log.Warn("keypool: reclaimed stuck lease", "identifier", id)
	}
}

// ClassifyOutcome maps an apierr.Kind to the FailureClass Return expects,
// used by internal/orchestrator so it doesn't need to know keypool's
// classification rules directly.
func ClassifyOutcome(kind apierr.Kind) FailureClass {
	switch kind {
	case apierr.KindRateLimited:
		return FailureRateLimited
	case apierr.KindUpstream5xx, apierr.KindMalformedResponse:
		return FailureUpstream5xx
	case apierr.KindAuthRejected:
		return FailureAuthRejected
	default:
		return FailureTransient
	}
}
