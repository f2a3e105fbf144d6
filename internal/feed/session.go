package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "market-engine/internal/errors"
	"market-engine/internal/logging"
	"market-engine/internal/models"
	"market-engine/internal/security"
)

// writeWait is the time allowed to write the subscription message.
const writeWait = 10 * time.Second

// TickSink receives normalized ticks from a session.
type TickSink interface {
	Accept(sym models.Symbol, nt models.NormalizedTick)
}

// Session is one connection to an upstream feed for one subscribed symbol.
// A session never reconnects: once Run returns, the feed is stopped.
type Session interface {
	Kind() models.FeedKind
	Symbol() models.Symbol
	Run(ctx context.Context) error
	Close() error
}

// SessionStats holds per-session message counters.
type SessionStats struct {
	Received uint64
	Accepted uint64
	Dropped  uint64
}

type session struct {
	kind             models.FeedKind
	url              string
	sym              models.Symbol
	normalizer       *Normalizer
	sink             TickSink
	logger           zerolog.Logger
	handshakeTimeout time.Duration
	hello            func(conn *websocket.Conn) error

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	received atomic.Uint64
	accepted atomic.Uint64
	dropped  atomic.Uint64
}

func newSession(kind models.FeedKind, url string, sym models.Symbol, n *Normalizer, sink TickSink, handshakeTimeout time.Duration, logger zerolog.Logger) *session {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 15 * time.Second
	}
	return &session{
		kind:             kind,
		url:              url,
		sym:              sym,
		normalizer:       n,
		sink:             sink,
		handshakeTimeout: handshakeTimeout,
		logger: logging.WithSymbol(
			logging.WithFeed(logging.WithComponent(logger, "feed"), string(kind)),
			sym.Name,
		),
	}
}

// Kind returns the feed protocol of the session.
func (s *session) Kind() models.FeedKind { return s.kind }

// Symbol returns the subscribed symbol.
func (s *session) Symbol() models.Symbol { return s.sym }

// Stats returns the session's message counters.
func (s *session) Stats() SessionStats {
	return SessionStats{
		Received: s.received.Load(),
		Accepted: s.accepted.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// Run connects, subscribes and processes messages until the connection
// fails, Close is called or ctx is cancelled. A clean stop returns nil;
// a socket error or remote close returns a FeedConnectionError.
func (s *session) Run(ctx context.Context) error {
	if s.url == "" {
		return apperrors.NewFeedConnectionError(string(s.kind), fmt.Errorf("no url configured"))
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return apperrors.NewFeedConnectionError(string(s.kind), fmt.Errorf("connect: %w", err))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()
	defer s.Close()

	if s.hello != nil {
		if err := s.hello(conn); err != nil {
			return apperrors.NewFeedConnectionError(string(s.kind), fmt.Errorf("subscribe: %w", err))
		}
	}
	s.logger.Info().Str("url", security.MaskURL(s.url)).Msg("Feed connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() || ctx.Err() != nil {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Feed connection lost")
			return apperrors.NewFeedConnectionError(string(s.kind), err)
		}
		s.handle(message)
	}
}

func (s *session) handle(message []byte) {
	s.received.Add(1)
	nt, ok := s.normalizer.Normalize(message, s.kind, s.sym)
	if !ok {
		s.dropped.Add(1)
		s.logger.Trace().Int("bytes", len(message)).Msg("Feed message dropped")
		return
	}
	s.accepted.Add(1)
	s.sink.Accept(s.sym, nt)
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close shuts down the connection. It is safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

// DomesticSession streams the exchange feed. On connect it sends the
// symbol token as a single text message.
type DomesticSession struct {
	*session
}

// NewDomesticSession creates a session on the domestic feed.
func NewDomesticSession(url string, sym models.Symbol, n *Normalizer, sink TickSink, handshakeTimeout time.Duration, logger zerolog.Logger) *DomesticSession {
	s := newSession(models.FeedDomestic, url, sym, n, sink, handshakeTimeout, logger)
	s.hello = func(conn *websocket.Conn) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, []byte(sym.Token))
	}
	return &DomesticSession{session: s}
}

// InternationalSession streams the FX feed. The server pushes every symbol,
// so nothing is sent on connect and messages are filtered by symbol name.
type InternationalSession struct {
	*session
}

// NewInternationalSession creates a session on the international feed.
func NewInternationalSession(url string, sym models.Symbol, n *Normalizer, sink TickSink, handshakeTimeout time.Duration, logger zerolog.Logger) *InternationalSession {
	return &InternationalSession{
		session: newSession(models.FeedInternational, url, sym, n, sink, handshakeTimeout, logger),
	}
}

var (
	_ Session = (*DomesticSession)(nil)
	_ Session = (*InternationalSession)(nil)
)
