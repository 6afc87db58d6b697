// Package propagation gives every viewer of an emergency — the victim
// device, the trusted-contact console, a public tracking link — a
// convergent view without a real push channel. Two delivery paths feed
// each subscription: the store's change signal (instant, same-runtime
// only) and a fixed-interval poll (the only guaranteed path). Observers
// converge within max(poll interval, signal latency).
package propagation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"safevoice/internal/models"
	"safevoice/pkg/cache"
	"safevoice/pkg/logger"
	"safevoice/pkg/scheduler"
	"safevoice/pkg/sig"
	"safevoice/pkg/store"

	"go.uber.org/zap"
)

// Snapshot is the observable state of one emergency at a point in time.
type Snapshot struct {
	Record       models.EmergencyRecord `json:"record"`
	LastLocation *models.LocationSample `json:"lastLocation,omitempty"`
	ObservedAt   time.Time              `json:"observedAt"`
}

// fingerprint identifies observable change; publishing is suppressed
// when nothing a viewer can see has moved.
func (s Snapshot) fingerprint() string {
	ts := int64(0)
	if s.LastLocation != nil {
		ts = s.LastLocation.Timestamp.UnixNano()
	}
	resolved := int64(0)
	if s.Record.ResolvedAt != nil {
		resolved = s.Record.ResolvedAt.UnixNano()
	}
	return fmt.Sprintf("%s|%d|%d", s.Record.Status, resolved, ts)
}

type subscriber struct {
	id int
	ch chan Snapshot
}

// Broker fans emergency snapshots out to subscribers.
type Broker struct {
	store    store.Store
	cache    cache.Cache
	hub      *sig.Hub // nil for poll-only deployments
	interval time.Duration
	sched    *scheduler.Scheduler

	mu        sync.Mutex
	subs      map[string][]subscriber // emergencyID -> subscribers
	last      map[string]string       // emergencyID -> last published fingerprint
	nextID    int
	conns     []struct {
		topic string
		id    int
	}
	started bool
}

// New builds a broker. hub may be nil: polling alone still satisfies
// the convergence contract, the signal is only a latency optimization.
func New(st store.Store, c cache.Cache, hub *sig.Hub, interval time.Duration) *Broker {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Broker{
		store:    st,
		cache:    c,
		hub:      hub,
		interval: interval,
		sched:    scheduler.New(),
		subs:     make(map[string][]subscriber),
		last:     make(map[string]string),
	}
}

// Start wires the signal fast path and the poll loop.
func (b *Broker) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	if b.hub != nil {
		for _, topic := range []string{
			models.SigEmergencyTriggered,
			models.SigEmergencyResolved,
			models.SigLocationAppended,
		} {
			id := b.hub.Connect(topic, b.onSignal)
			b.mu.Lock()
			b.conns = append(b.conns, struct {
				topic string
				id    int
			}{topic, id})
			b.mu.Unlock()
		}
	}
	b.sched.Every(b.interval, scheduler.FuncJob(b.poll))
}

// Stop disconnects signals, stops polling and closes all subscriptions.
func (b *Broker) Stop() {
	if b.hub != nil {
		b.mu.Lock()
		conns := b.conns
		b.conns = nil
		b.mu.Unlock()
		for _, c := range conns {
			b.hub.Disconnect(c.topic, c.id)
		}
	}
	b.sched.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(b.subs, id)
	}
}

// Subscribe returns a snapshot stream for one emergency and an
// unsubscribe func. The channel is buffered; a slow consumer loses
// intermediate snapshots, never the latest one pending.
func (b *Broker) Subscribe(emergencyID string) (<-chan Snapshot, func()) {
	b.mu.Lock()
	b.nextID++
	sub := subscriber{id: b.nextID, ch: make(chan Snapshot, 8)}
	b.subs[emergencyID] = append(b.subs[emergencyID], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[emergencyID]
		for i, s := range list {
			if s.id == sub.id {
				b.subs[emergencyID] = append(list[:i:i], list[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe
}

// Snapshot reads the current observable state, fronted by the cache so
// polling tracking links stay cheap.
func (b *Broker) Snapshot(ctx context.Context, emergencyID string) (Snapshot, error) {
	if b.cache != nil {
		if v, ok := b.cache.Get(ctx, cacheKey(emergencyID)); ok {
			if snap, ok := v.(Snapshot); ok {
				return snap, nil
			}
		}
	}
	return b.load(ctx, emergencyID)
}

func (b *Broker) load(ctx context.Context, emergencyID string) (Snapshot, error) {
	rec, err := b.store.GetEmergency(ctx, emergencyID)
	if err != nil {
		return Snapshot{}, err
	}
	last, err := b.store.LastLocation(ctx, emergencyID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Record: *rec, LastLocation: last, ObservedAt: time.Now()}
	if b.cache != nil {
		_ = b.cache.Set(ctx, cacheKey(emergencyID), snap, b.interval)
	}
	return snap, nil
}

func cacheKey(emergencyID string) string { return "snapshot:" + emergencyID }

// onSignal is the fast path: a store write just happened in this
// runtime, refresh and publish immediately.
func (b *Broker) onSignal(sender any, _ ...any) {
	var emergencyID string
	switch v := sender.(type) {
	case *models.EmergencyRecord:
		emergencyID = v.ID
	case *models.LocationSample:
		emergencyID = v.EmergencyID
	default:
		return
	}
	b.refresh(context.Background(), emergencyID)
}

// poll is the guaranteed path, re-reading every watched emergency.
func (b *Broker) poll(ctx context.Context) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.subs))
	for id, subs := range b.subs {
		if len(subs) > 0 {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.refresh(ctx, id)
	}
}

func (b *Broker) refresh(ctx context.Context, emergencyID string) {
	snap, err := b.load(ctx, emergencyID)
	if err != nil {
		logger.Warn("snapshot refresh failed",
			zap.String("emergencyId", emergencyID), zap.Error(err))
		return
	}

	fp := snap.fingerprint()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last[emergencyID] == fp {
		return
	}
	b.last[emergencyID] = fp

	// Sends stay under b.mu: unsubscribe and Stop close these channels
	// under the same lock, so a send can never race a close. The sends
	// are non-blocking, holding the lock here is cheap.
	for _, s := range b.subs[emergencyID] {
		select {
		case s.ch <- snap:
		default:
			// drop the oldest pending snapshot, keep the channel fresh
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- snap:
			default:
			}
		}
	}
}
