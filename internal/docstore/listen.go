package docstore

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/chatsync/internal/queue"
)

// ChangeType classifies a document change between two snapshots.
type ChangeType int

const (
	ChangeAdded ChangeType = iota + 1
	ChangeModified
	ChangeRemoved
)

// String returns the lowercase change name.
func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

// Change is one document difference. For removals Doc is the last version
// the subscription saw.
type Change struct {
	Type ChangeType
	Doc  *Document
}

// Snapshot is the full materialised result of a query plus the changes
// since the previous snapshot. The first snapshot reports every document
// as added.
type Snapshot struct {
	Docs    []*Document
	Changes []Change
}

// Subscription is a live query. Stop it when no longer needed.
type Subscription struct {
	id      uint64
	hub     *hub
	query   Query
	fn      func(Snapshot)
	pending *queue.Queue[Snapshot]
	done    chan struct{}
	stopped atomic.Bool

	relMu   sync.Mutex
	release func() bool

	// mu serialises refreshes so snapshots are computed against the
	// previously delivered state in commit order.
	mu     sync.Mutex
	primed bool
	last   map[string]*Document
}

// Subscribe registers a live query. fn receives the initial snapshot and
// then one snapshot per commit that changed the result. Deliveries happen
// on a goroutine owned by the subscription, in order, never concurrently.
//
// Cancelling ctx stops the subscription.
func (s *Store) Subscribe(ctx context.Context, q Query, fn func(Snapshot)) (*Subscription, error) {
	if q.err != nil {
		return nil, q.err
	}

	sub := &Subscription{
		hub:     s.hub,
		query:   q,
		fn:      fn,
		pending: queue.New[Snapshot](),
		done:    make(chan struct{}),
	}

	// Register before the first read so no commit falls between them.
	s.hub.add(sub)
	go sub.deliver()

	if err := sub.refresh(ctx); err != nil {
		sub.Stop()
		return nil, err
	}

	stop := context.AfterFunc(ctx, sub.Stop)
	sub.relMu.Lock()
	sub.release = stop
	sub.relMu.Unlock()
	return sub, nil
}

// Stop ends the subscription. It is idempotent and does not wait for an
// in-flight callback, so it is safe to call from inside the callback.
func (sub *Subscription) Stop() {
	if sub.stopped.Swap(true) {
		return
	}
	sub.hub.remove(sub)
	sub.pending.Close()

	sub.relMu.Lock()
	release := sub.release
	sub.relMu.Unlock()
	if release != nil {
		release()
	}
}

// Done is closed once the delivery goroutine has exited.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

func (sub *Subscription) deliver() {
	defer close(sub.done)
	for {
		if snap, ok := sub.pending.TryDequeue(); ok {
			if sub.stopped.Load() {
				continue
			}
			sub.fn(snap)
			continue
		}
		if _, ok := <-sub.pending.Wait(); !ok && sub.pending.Len() == 0 {
			return
		}
	}
}

// refresh re-runs the query and queues a snapshot if the result changed.
// The first refresh always queues a snapshot.
func (sub *Subscription) refresh(ctx context.Context) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.stopped.Load() {
		return nil
	}

	docs, err := sub.hub.store.Query(ctx, sub.query)
	if err != nil {
		return err
	}

	changes := diff(sub.last, docs)
	if sub.primed && len(changes) == 0 {
		return nil
	}
	sub.primed = true

	next := make(map[string]*Document, len(docs))
	for _, d := range docs {
		next[d.Path] = d
	}
	sub.last = next

	sub.pending.Enqueue(Snapshot{Docs: docs, Changes: changes})
	return nil
}

func diff(prev map[string]*Document, docs []*Document) []Change {
	var changes []Change
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		seen[d.Path] = true
	}
	// Removed documents in their previous order.
	var removed []*Document
	for path, d := range prev {
		if !seen[path] {
			removed = append(removed, d)
		}
	}
	sortBySeq(removed)
	for _, d := range removed {
		changes = append(changes, Change{Type: ChangeRemoved, Doc: d})
	}
	for _, d := range docs {
		old, ok := prev[d.Path]
		switch {
		case !ok:
			changes = append(changes, Change{Type: ChangeAdded, Doc: d})
		case !bytes.Equal(old.raw, d.raw):
			changes = append(changes, Change{Type: ChangeModified, Doc: d})
		}
	}
	return changes
}

func sortBySeq(docs []*Document) {
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0 && docs[j].Seq < docs[j-1].Seq; j-- {
			docs[j], docs[j-1] = docs[j-1], docs[j]
		}
	}
}

// hub tracks live subscriptions.
type hub struct {
	store *Store
	mu    sync.RWMutex
	next  uint64
	subs  map[uint64]*Subscription
}

func newHub(s *Store) *hub {
	return &hub{store: s, subs: make(map[uint64]*Subscription)}
}

func (h *hub) add(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	sub.id = h.next
	h.subs[sub.id] = sub
}

func (h *hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub.id)
}

// notify refreshes every subscription over a changed collection.
// It runs on the committing goroutine after the transaction is released.
func (h *hub) notify(changed changeSet) {
	if len(changed) == 0 {
		return
	}
	h.mu.RLock()
	var targets []*Subscription
	for _, sub := range h.subs {
		if _, ok := changed[sub.query.collection]; ok {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.refresh(context.Background()); err != nil {
			h.store.logger.Warn("subscription refresh failed",
				"collection", sub.query.collection,
				"error", err)
		}
	}
}

func (h *hub) stopAll() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.Stop()
	}
}
