package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "market-engine/internal/errors"
	"market-engine/internal/models"
)

// Sink receives a subscription's lifecycle events and ticks.
type Sink interface {
	TickSink
	// Open creates empty per-symbol state before the first tick.
	Open(sym models.Symbol)
	// Stopped is called once when the session ends; err is nil for a
	// requested shutdown.
	Stopped(sym models.Symbol, err error)
	// Discard drops per-symbol state after the subscription is closed.
	Discard(sym models.Symbol)
}

// Subscription is a scoped feed resource for one symbol. Close always
// tears the session down and discards the symbol's state.
type Subscription struct {
	sym     models.Symbol
	session Session
	sink    Sink
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	once    sync.Once
	opened  time.Time
}

func startSubscription(parent context.Context, sym models.Symbol, session Session, sink Sink, logger zerolog.Logger) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription{
		sym:     sym,
		session: session,
		sink:    sink,
		cancel:  cancel,
		done:    make(chan struct{}),
		opened:  time.Now(),
	}

	sink.Open(sym)
	go func() {
		err := session.Run(ctx)
		s.err = err
		if err != nil {
			logger.Warn().Err(err).Str("symbol", sym.Name).Msg("Feed stopped")
		}
		sink.Stopped(sym, err)
		close(s.done)
	}()
	return s
}

// Symbol returns the subscribed symbol.
func (s *Subscription) Symbol() models.Symbol { return s.sym }

// Kind returns the feed serving the subscription.
func (s *Subscription) Kind() models.FeedKind { return s.session.Kind() }

// OpenedAt returns when the subscription was started.
func (s *Subscription) OpenedAt() time.Time { return s.opened }

// Done is closed when the underlying session has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, or nil while it is running or after a
// requested shutdown.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the session, waits for it to exit and discards the symbol's
// state. It is idempotent.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.session.Close()
		<-s.done
		s.sink.Discard(s.sym)
	})
	return nil
}

// RouterConfig holds feed endpoints.
type RouterConfig struct {
	DomesticURL      string
	InternationalURL string
	HandshakeTimeout time.Duration
}

// Router opens subscriptions on the feed that serves a symbol's exchange
// class. At most one subscription is active; opening a new one closes the
// previous first.
type Router struct {
	cfg        RouterConfig
	normalizer *Normalizer
	sink       Sink
	logger     zerolog.Logger

	mu      sync.Mutex
	current *Subscription
}

// NewRouter creates a router delivering normalized ticks to sink.
func NewRouter(cfg RouterConfig, n *Normalizer, sink Sink, logger zerolog.Logger) *Router {
	return &Router{
		cfg:        cfg,
		normalizer: n,
		sink:       sink,
		logger:     logger.With().Str("component", "router").Logger(),
	}
}

// Open subscribes to sym, replacing any current subscription.
func (r *Router) Open(ctx context.Context, sym models.Symbol) (*Subscription, error) {
	if sym.IsZero() {
		return nil, apperrors.ErrNoSymbol
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.Close()
		r.current = nil
	}

	session := r.newSession(sym)
	r.logger.Info().
		Str("symbol", sym.Name).
		Str("class", string(sym.Class)).
		Str("feed", string(session.Kind())).
		Msg("Subscribing")

	r.current = startSubscription(ctx, sym, session, r.sink, r.logger)
	return r.current, nil
}

func (r *Router) newSession(sym models.Symbol) Session {
	if sym.Class.FeedKind() == models.FeedInternational {
		return NewInternationalSession(r.cfg.InternationalURL, sym, r.normalizer, r.sink, r.cfg.HandshakeTimeout, r.logger)
	}
	return NewDomesticSession(r.cfg.DomesticURL, sym, r.normalizer, r.sink, r.cfg.HandshakeTimeout, r.logger)
}

// Current returns the active subscription, or nil.
func (r *Router) Current() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close closes the active subscription.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
	return nil
}
