package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/z1w2r3/suna-sub001/pkg/thread"
)

// ErrFeedNotFound is returned when a subscription names a run the hub does
// not hold.
var ErrFeedNotFound = fmt.Errorf("run feed not found")

// Hub fans run messages out to stream subscribers. Every message of a run is
// buffered, so a subscriber attaching mid-run replays the feed from the
// start. A subscriber that stops draining has its channel closed; the engine
// side never blocks on a consumer.
type Hub struct {
	mu     sync.RWMutex
	feeds  map[string]*runFeed
	retain time.Duration
	logger zerolog.Logger
}

type runFeed struct {
	mu      sync.Mutex
	buffer  []thread.Message
	subs    map[int]chan thread.Message
	nextSub int
	closed  bool
}

// NewHub creates a hub. Finished feeds stay subscribable for retain; 0 means
// 5 minutes.
func NewHub(retain time.Duration, logger zerolog.Logger) *Hub {
	if retain <= 0 {
		retain = 5 * time.Minute
	}
	return &Hub{
		feeds:  make(map[string]*runFeed),
		retain: retain,
		logger: logger,
	}
}

// Open creates the feed for a run. Opening an existing feed is a no-op.
func (h *Hub) Open(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.feeds[runID]; exists {
		return
	}
	h.feeds[runID] = &runFeed{subs: make(map[int]chan thread.Message)}
}

// Publish appends a message to the run's feed and delivers it to every
// subscriber. Subscribers whose channel is full are dropped.
func (h *Hub) Publish(runID string, msg thread.Message) {
	h.mu.RLock()
	feed, exists := h.feeds[runID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	feed.mu.Lock()
	defer feed.mu.Unlock()
	if feed.closed {
		return
	}

	feed.buffer = append(feed.buffer, msg)
	for id, ch := range feed.subs {
		select {
		case ch <- msg:
		default:
			h.logger.Warn().Str("run_id", runID).Int("subscriber", id).Msg("Dropping slow stream subscriber")
			delete(feed.subs, id)
			close(ch)
		}
	}
}

// Close marks the run's feed finished: live channels end, the buffered feed
// stays subscribable for the retention window, then the feed is removed.
func (h *Hub) Close(runID string) {
	h.mu.RLock()
	feed, exists := h.feeds[runID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	feed.mu.Lock()
	if !feed.closed {
		feed.closed = true
		for id, ch := range feed.subs {
			delete(feed.subs, id)
			close(ch)
		}
	}
	feed.mu.Unlock()

	time.AfterFunc(h.retain, func() { h.Remove(runID) })
}

// Remove drops a feed entirely. Future subscriptions fail.
func (h *Hub) Remove(runID string) {
	h.mu.Lock()
	feed, exists := h.feeds[runID]
	if exists {
		delete(h.feeds, runID)
	}
	h.mu.Unlock()
	if !exists {
		return
	}

	feed.mu.Lock()
	for id, ch := range feed.subs {
		delete(feed.subs, id)
		close(ch)
	}
	feed.mu.Unlock()
}

// Subscribe attaches to a run's feed. It returns the messages published so
// far and a live channel for the rest; the channel is closed when the run
// ends or the subscriber falls behind. The cancel func detaches and is safe
// to call more than once.
func (h *Hub) Subscribe(runID string, buffer int) ([]thread.Message, <-chan thread.Message, func(), error) {
	h.mu.RLock()
	feed, exists := h.feeds[runID]
	h.mu.RUnlock()
	if !exists {
		return nil, nil, nil, ErrFeedNotFound
	}
	if buffer <= 0 {
		buffer = 256
	}

	feed.mu.Lock()
	defer feed.mu.Unlock()

	history := make([]thread.Message, len(feed.buffer))
	copy(history, feed.buffer)

	ch := make(chan thread.Message, buffer)
	if feed.closed {
		close(ch)
		return history, ch, func() {}, nil
	}

	id := feed.nextSub
	feed.nextSub++
	feed.subs[id] = ch

	cancel := func() {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		if _, ok := feed.subs[id]; ok {
			delete(feed.subs, id)
			close(ch)
		}
	}
	return history, ch, cancel, nil
}

// Count returns the number of feeds the hub holds, live and retained.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.feeds)
}
