package tail

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
)

var (
	hubStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "journald_query_tail_streams",
		Help: "Live tails currently shared by the hub",
	})

	hubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "journald_query_tail_subscribers",
		Help: "Subscribers attached to hub tails",
	})

	hubDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journald_query_tail_events_total",
		Help: "Tail events fanned out to subscribers by outcome",
	}, []string{"outcome"}) // "delivered" or "dropped"
)

// Event is one item of a subscription: an entry, or the error that ended
// the underlying tail.
type Event struct {
	Entry model.Entry
	Err   error
}

// HubOptions configures the tails a Hub starts.
type HubOptions struct {
	PollInterval time.Duration
	StartOffset  time.Duration
	// Buffer is the per-subscriber channel capacity. Events for a full
	// subscriber are dropped.
	Buffer int
}

type streamKey struct {
	hostname string
	unit     string
}

type stream struct {
	subs   map[*Subscription]struct{}
	cancel context.CancelFunc
}

// Hub shares one tail per (hostname, unit) among any number of
// subscribers. Each tail runs on its own goroutine, which is the only
// user of its journal handle. A tail is stopped when its last subscriber
// leaves.
type Hub struct {
	opener journal.Opener
	loc    model.Location
	opts   HubOptions

	mu      sync.Mutex
	streams map[streamKey]*stream
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(opener journal.Opener, loc model.Location, opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = model.DefaultTailBuffer
	}
	return &Hub{
		opener:  opener,
		loc:     loc,
		opts:    opts,
		streams: make(map[streamKey]*stream),
	}
}

// Subscription receives the events of one shared tail.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	hub  *Hub
	key  streamKey
	once sync.Once
}

// Subscribe attaches to the tail for hostname and unit, starting it if
// needed.
func (h *Hub) Subscribe(hostname, unit string) (*Subscription, error) {
	key := streamKey{hostname: hostname, unit: unit}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrStopped
	}

	s, ok := h.streams[key]
	if !ok {
		cfg := model.NewTailConfig(hostname, unit, h.loc)
		if h.opts.PollInterval > 0 {
			cfg = cfg.WithPollInterval(h.opts.PollInterval)
		}
		cfg = cfg.WithStartOffset(h.opts.StartOffset)
		t, err := OpenWith(h.opener, cfg)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		s = &stream{subs: make(map[*Subscription]struct{}), cancel: cancel}
		h.streams[key] = s
		hubStreams.Inc()

		h.wg.Add(1)
		go h.run(ctx, key, s, t)
	}

	ch := make(chan Event, h.opts.Buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, key: key}
	s.subs[sub] = struct{}{}
	hubSubscribers.Inc()
	return sub, nil
}

func (h *Hub) run(ctx context.Context, key streamKey, s *stream, t *Tail) {
	defer h.wg.Done()
	defer t.Close()

	for {
		e, err := t.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		h.broadcast(s, Event{Entry: e, Err: err})
		if err != nil {
			h.end(key, s)
			return
		}
	}
}

func (h *Hub) broadcast(s *stream, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
			hubDelivered.WithLabelValues("delivered").Inc()
		default:
			hubDelivered.WithLabelValues("dropped").Inc()
		}
	}
}

// end detaches every subscriber of a stream whose tail stopped.
func (h *Hub) end(key streamKey, s *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[key] == s {
		delete(h.streams, key)
		hubStreams.Dec()
	}
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
		hubSubscribers.Dec()
	}
	s.cancel()
}

// Close detaches the subscription. The channel is closed.
func (sub *Subscription) Close() {
	sub.once.Do(func() { sub.hub.unsubscribe(sub) })
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[sub.key]
	if !ok {
		return
	}
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
	hubSubscribers.Dec()

	if len(s.subs) == 0 {
		s.cancel()
		delete(h.streams, sub.key)
		hubStreams.Dec()
	}
}

// Streams returns the number of running tails.
func (h *Hub) Streams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Close stops every tail, closes every subscription and waits for the tail
// goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for key, s := range h.streams {
		for sub := range s.subs {
			delete(s.subs, sub)
			close(sub.ch)
			hubSubscribers.Dec()
		}
		s.cancel()
		delete(h.streams, key)
		hubStreams.Dec()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
