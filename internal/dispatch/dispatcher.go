// Package dispatch serializes inbound messages per conversation. Messages for
// one ChatKey are processed strictly in arrival order; different chats run
// concurrently on a shared worker pool.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"
	"botgate/internal/metrics"
)

const (
	defaultQueueCapacity = 64
	defaultDedupWindow   = 200
	defaultIdleEviction  = 30 * time.Minute
	defaultWorkers       = 8
	defaultMaxChats      = 4096
	janitorInterval      = time.Minute
)

// ProcessFunc handles one inbound message end to end: resolution plus
// delivery. It runs on a worker goroutine while the chat's exclusivity token
// is held, so it never runs twice concurrently for the same ChatKey.
type ProcessFunc func(ctx context.Context, msg domain.InboundMessage)

// EvictFunc is called after an idle chat's state is removed, so collaborators
// can drop their own per-chat state.
type EvictFunc func(key domain.ChatKey)

// chatState is one conversation's queue plus its exclusivity token. The
// running flag is the token: true means the state is in the ready channel or
// held by a worker, so nobody else may push it.
type chatState struct {
	key        domain.ChatKey
	queue      []domain.InboundMessage
	seen       map[string]struct{}
	seenOrder  []string // ring of rawIDs, oldest first
	running    bool
	lastActive time.Time
}

// remember records a rawID in the dedup window, evicting the oldest entry
// once the window is full.
func (cs *chatState) remember(rawID string, window int) {
	if len(cs.seenOrder) >= window {
		oldest := cs.seenOrder[0]
		cs.seenOrder = cs.seenOrder[1:]
		delete(cs.seen, oldest)
	}
	cs.seen[rawID] = struct{}{}
	cs.seenOrder = append(cs.seenOrder, rawID)
}

// Dispatcher owns all chat queues and the worker pool draining them.
type Dispatcher struct {
	queueCapacity int
	dedupWindow   int
	idleEviction  time.Duration
	workers       int
	maxChats      int

	process ProcessFunc
	onEvict EvictFunc
	logger  *slog.Logger

	mu    sync.Mutex
	chats map[domain.ChatKey]*chatState
	ready chan *chatState

	wg sync.WaitGroup
}

func NewDispatcher(cfg config.DispatchConfig, process ProcessFunc, onEvict EvictFunc, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		queueCapacity: cfg.QueueCapacity,
		dedupWindow:   cfg.DedupWindow,
		idleEviction:  time.Duration(cfg.IdleEvictionMinutes) * time.Minute,
		workers:       cfg.Workers,
		maxChats:      cfg.MaxChats,
		process:       process,
		onEvict:       onEvict,
		logger:        logger,
		chats:         make(map[domain.ChatKey]*chatState),
	}
	if d.queueCapacity <= 0 {
		d.queueCapacity = defaultQueueCapacity
	}
	if d.dedupWindow <= 0 {
		d.dedupWindow = defaultDedupWindow
	}
	if d.idleEviction <= 0 {
		d.idleEviction = defaultIdleEviction
	}
	if d.workers <= 0 {
		d.workers = defaultWorkers
	}
	if d.maxChats <= 0 {
		d.maxChats = defaultMaxChats
	}
	// The running flag guarantees at most one ready entry per chat, so this
	// buffer can never fill.
	d.ready = make(chan *chatState, d.maxChats)
	return d
}

// Enqueue accepts one normalized message for ordered processing. It returns
// domain.ErrDuplicate for a rawID already inside the chat's dedup window and
// domain.ErrOverloaded when the chat's queue (or the chat table) is full; in
// both cases the caller still acknowledges the webhook.
func (d *Dispatcher) Enqueue(msg domain.InboundMessage) error {
	key := msg.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	cs, ok := d.chats[key]
	if !ok {
		if len(d.chats) >= d.maxChats {
			metrics.ShedMessages.Inc()
			return domain.ErrOverloaded
		}
		cs = &chatState{
			key:  key,
			seen: make(map[string]struct{}),
		}
		d.chats[key] = cs
		metrics.ActiveChats.Set(int64(len(d.chats)))
	}

	if msg.RawID != "" {
		if _, dup := cs.seen[msg.RawID]; dup {
			cs.lastActive = time.Now()
			metrics.DedupedMessages.Inc()
			return domain.ErrDuplicate
		}
	}

	if len(cs.queue) >= d.queueCapacity {
		// Tail drop: queued work is preserved, the newcomer is shed.
		metrics.ShedMessages.Inc()
		d.logger.Warn("chat queue full, shedding message",
			"chat", key.String(), "queued", len(cs.queue))
		return domain.ErrOverloaded
	}

	cs.queue = append(cs.queue, msg)
	if msg.RawID != "" {
		cs.remember(msg.RawID, d.dedupWindow)
	}
	cs.lastActive = time.Now()

	if !cs.running {
		cs.running = true
		d.ready <- cs
	}
	return nil
}

// Run drains chat queues until ctx is cancelled, then waits for in-flight
// work to finish and reports anything still queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	d.wg.Add(1)
	go d.janitor(ctx)

	<-ctx.Done()
	d.wg.Wait()
	d.reportAbandoned()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cs := <-d.ready:
			d.drainOne(ctx, cs)
		}
	}
}

// drainOne processes exactly one message for the chat, then either re-queues
// the chat or releases its token. One message per turn keeps a single busy
// chat from starving the pool.
func (d *Dispatcher) drainOne(ctx context.Context, cs *chatState) {
	d.mu.Lock()
	if len(cs.queue) == 0 {
		cs.running = false
		d.mu.Unlock()
		return
	}
	msg := cs.queue[0]
	cs.queue = cs.queue[1:]
	d.mu.Unlock()

	d.process(ctx, msg)

	d.mu.Lock()
	cs.lastActive = time.Now()
	if len(cs.queue) > 0 && ctx.Err() == nil {
		d.ready <- cs
	} else {
		cs.running = false
	}
	d.mu.Unlock()
}

// janitor evicts chats that have been idle past the eviction window. A chat
// is only evicted when its queue is empty and no worker holds its token.
func (d *Dispatcher) janitor(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.evictIdle()
		}
	}
}

func (d *Dispatcher) evictIdle() {
	cutoff := time.Now().Add(-d.idleEviction)

	d.mu.Lock()
	var evicted []domain.ChatKey
	for key, cs := range d.chats {
		if !cs.running && len(cs.queue) == 0 && cs.lastActive.Before(cutoff) {
			delete(d.chats, key)
			evicted = append(evicted, key)
		}
	}
	if len(evicted) > 0 {
		metrics.ActiveChats.Set(int64(len(d.chats)))
	}
	d.mu.Unlock()

	for _, key := range evicted {
		if d.onEvict != nil {
			d.onEvict(key)
		}
		d.logger.Debug("evicted idle chat", "chat", key.String())
	}
}

func (d *Dispatcher) reportAbandoned() {
	d.mu.Lock()
	defer d.mu.Unlock()

	queued := 0
	for _, cs := range d.chats {
		queued += len(cs.queue)
	}
	if queued > 0 {
		d.logger.Warn("shutdown with undelivered queued messages", "count", queued)
	}
}

// Stats is a point-in-time snapshot for the status endpoints.
type Stats struct {
	ActiveChats    int            `json:"activeChats"`
	QueuedMessages int            `json:"queuedMessages"`
	PerPlatform    map[string]int `json:"perPlatform"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Stats{PerPlatform: make(map[string]int)}
	st.ActiveChats = len(d.chats)
	for key, cs := range d.chats {
		st.QueuedMessages += len(cs.queue)
		st.PerPlatform[string(key.Platform)]++
	}
	return st
}

// QueueLen reports how many messages are waiting for one chat. Used by tests
// and the status endpoint.
func (d *Dispatcher) QueueLen(key domain.ChatKey) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.chats[key]
	if !ok {
		return 0
	}
	return len(cs.queue)
}
