package market

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"market-engine/internal/models"
)

// AllSymbols subscribes to updates for every symbol.
const AllSymbols = ""

// HubConfig holds configuration for the update Hub.
type HubConfig struct {
	// BufferSize is the size of the publish queue.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// ControlWait bounds how long a feed-stopped update waits for room in a
	// full subscriber buffer.
	ControlWait time.Duration
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
		ControlWait:          time.Second,
	}
}

// Hub fans market updates out to subscriber channels and consumers from a
// single delivery goroutine, so every receiver sees updates in publish order.
// Publish never blocks: updates for a full buffer are dropped and counted.
// A feed-stopped update instead waits a bounded time for room.
type Hub struct {
	config HubConfig
	queue  chan models.MarketUpdate

	mu       sync.RWMutex
	bySymbol map[string]map[*subscriber]struct{}
	byChan   map[<-chan models.MarketUpdate]*subscriber
	done     chan struct{}
	started  bool

	consumersMu sync.Mutex
	consumers   atomic.Pointer[[]Consumer]

	received  atomic.Uint64
	broadcast atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	id      string
	symbol  string
	ch      chan models.MarketUpdate
	dropped atomic.Uint64
}

// NewHub creates a new hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new hub. Non-positive sizes use the defaults.
func NewHubWithConfig(config HubConfig) *Hub {
	def := DefaultHubConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = def.SubscriberBufferSize
	}
	if config.ControlWait <= 0 {
		config.ControlWait = def.ControlWait
	}
	h := &Hub{
		config:   config,
		queue:    make(chan models.MarketUpdate, config.BufferSize),
		bySymbol: make(map[string]map[*subscriber]struct{}),
		byChan:   make(map[<-chan models.MarketUpdate]*subscriber),
	}
	h.consumers.Store(&[]Consumer{})
	return h
}

// Start runs the delivery loop until ctx is cancelled or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.done = make(chan struct{})
	go h.run(ctx, h.done)
}

func (h *Hub) run(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case u := <-h.queue:
			h.received.Add(1)
			h.deliver(ctx, u)
			for _, c := range *h.consumers.Load() {
				if wants(c, u.Symbol) {
					c.OnUpdate(u)
				}
			}
		}
	}
}

// Stop ends delivery and closes every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return
	}
	h.started = false
	close(h.done)

	for ch, sub := range h.byChan {
		close(sub.ch)
		delete(h.byChan, ch)
	}
	h.bySymbol = make(map[string]map[*subscriber]struct{})
}

// IsStarted returns whether the delivery loop is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Subscribe returns a channel receiving updates for symbol, or for every
// symbol when symbol is AllSymbols.
func (h *Hub) Subscribe(symbol string) <-chan models.MarketUpdate {
	return h.SubscribeWithID(symbol, "")
}

// SubscribeWithID is Subscribe with a caller-chosen label.
func (h *Hub) SubscribeWithID(symbol, id string) <-chan models.MarketUpdate {
	sub := &subscriber{
		id:     id,
		symbol: symbol,
		ch:     make(chan models.MarketUpdate, h.config.SubscriberBufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.bySymbol[symbol]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.bySymbol[symbol] = set
	}
	set[sub] = struct{}{}
	h.byChan[sub.ch] = sub
	return sub.ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (h *Hub) Unsubscribe(symbol string, ch <-chan models.MarketUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.byChan[ch]
	if !ok || sub.symbol != symbol {
		return
	}
	delete(h.byChan, ch)
	delete(h.bySymbol[symbol], sub)
	if len(h.bySymbol[symbol]) == 0 {
		delete(h.bySymbol, symbol)
	}
	close(sub.ch)
}

// SubscriberCount returns the number of channels subscribed to symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySymbol[symbol])
}

// Publish queues u for delivery without blocking.
func (h *Hub) Publish(u models.MarketUpdate) {
	select {
	case h.queue <- u:
	default:
		h.dropped.Add(1)
	}
}

// PublishWait queues u, waiting up to timeout for room in the queue. It
// reports whether u was queued.
func (h *Hub) PublishWait(u models.MarketUpdate, timeout time.Duration) bool {
	select {
	case h.queue <- u:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case h.queue <- u:
		return true
	case <-timer.C:
		h.dropped.Add(1)
		return false
	}
}

func (h *Hub) deliver(ctx context.Context, u models.MarketUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.sendAll(ctx, h.bySymbol[u.Symbol], u)
	if u.Symbol != AllSymbols {
		h.sendAll(ctx, h.bySymbol[AllSymbols], u)
	}
}

func (h *Hub) sendAll(ctx context.Context, set map[*subscriber]struct{}, u models.MarketUpdate) {
	for sub := range set {
		if h.send(ctx, sub, u) {
			h.broadcast.Add(1)
		} else {
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) send(ctx context.Context, sub *subscriber, u models.MarketUpdate) bool {
	select {
	case sub.ch <- u:
		return true
	default:
	}
	if u.Kind != models.UpdateFeedStopped {
		return false
	}

	timer := time.NewTimer(h.config.ControlWait)
	defer timer.Stop()
	select {
	case sub.ch <- u:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// HubMetrics contains hub delivery counters.
type HubMetrics struct {
	Received  uint64
	Broadcast uint64
	Dropped   uint64
}

// Metrics returns a snapshot of the delivery counters.
func (h *Hub) Metrics() HubMetrics {
	return HubMetrics{
		Received:  h.received.Load(),
		Broadcast: h.broadcast.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Consumer processes updates on the hub's delivery goroutine.
// OnUpdate must not block.
type Consumer interface {
	OnUpdate(u models.MarketUpdate)
	// Symbols returns the symbols of interest; empty means all.
	Symbols() []string
}

// RegisterConsumer adds c after the existing consumers.
func (h *Hub) RegisterConsumer(c Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()

	current := *h.consumers.Load()
	next := make([]Consumer, len(current), len(current)+1)
	copy(next, current)
	next = append(next, c)
	h.consumers.Store(&next)
}

// UnregisterConsumer removes c.
func (h *Hub) UnregisterConsumer(c Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()

	current := *h.consumers.Load()
	next := make([]Consumer, 0, len(current))
	for _, existing := range current {
		if existing != c {
			next = append(next, existing)
		}
	}
	h.consumers.Store(&next)
}

func wants(c Consumer, symbol string) bool {
	symbols := c.Symbols()
	if len(symbols) == 0 {
		return true
	}
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	symbols  []string
	onUpdate func(models.MarketUpdate)
}

// NewConsumerFunc creates a Consumer calling onUpdate for symbols.
func NewConsumerFunc(symbols []string, onUpdate func(models.MarketUpdate)) *ConsumerFunc {
	return &ConsumerFunc{symbols: symbols, onUpdate: onUpdate}
}

// OnUpdate implements Consumer.
func (c *ConsumerFunc) OnUpdate(u models.MarketUpdate) {
	if c.onUpdate != nil {
		c.onUpdate(u)
	}
}

// Symbols implements Consumer.
func (c *ConsumerFunc) Symbols() []string {
	return c.symbols
}
