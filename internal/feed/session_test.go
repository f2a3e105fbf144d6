package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "market-engine/internal/errors"
	"market-engine/internal/models"
)

// recordingSink collects everything a session or subscription delivers.
type recordingSink struct {
	mu        sync.Mutex
	ticks     []models.NormalizedTick
	opened    []string
	stopped   []error
	discarded []string
	tickCh    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{tickCh: make(chan struct{}, 100)}
}

func (r *recordingSink) Accept(sym models.Symbol, nt models.NormalizedTick) {
	r.mu.Lock()
	r.ticks = append(r.ticks, nt)
	r.mu.Unlock()
	r.tickCh <- struct{}{}
}

func (r *recordingSink) Open(sym models.Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, sym.Name)
}

func (r *recordingSink) Stopped(sym models.Symbol, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, err)
}

func (r *recordingSink) Discard(sym models.Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = append(r.discarded, sym.Name)
}

func (r *recordingSink) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func (r *recordingSink) waitTick(t *testing.T) {
	t.Helper()
	select {
	case <-r.tickCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

var upgrader = websocket.Upgrader{}

// feedServer is a websocket server that records the first client message
// and then plays back messages. When hold is set it keeps the connection
// open until the client goes away.
type feedServer struct {
	*httptest.Server
	hello chan string
}

func newFeedServer(t *testing.T, readHello bool, messages []string, hold bool) *feedServer {
	t.Helper()
	fs := &feedServer{hello: make(chan string, 1)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if readHello {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.hello <- string(msg)
		}
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if hold {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestDomesticSession_SubscribesAndStopsOnRemoteClose(t *testing.T) {
	server := newFeedServer(t, true, []string{
		`true`,
		`{"instrument_token":"999","last_price":"1"}`,
		`{"instrument_token":"123","last_price":"105.5","bid":"0","ask":"106","timestamp":1700000000000}`,
	}, false)

	sink := newRecordingSink()
	session := NewDomesticSession(wsURL(server.Server), gold, NewNormalizer(fixedRate(83)), sink, time.Second, zerolog.Nop())

	err := session.Run(context.Background())

	select {
	case hello := <-server.hello:
		if hello != "123" {
			t.Errorf("subscription message = %q, want token 123", hello)
		}
	default:
		t.Error("server did not receive the subscription message")
	}

	var connErr *apperrors.FeedConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Run() error = %v, want FeedConnectionError", err)
	}
	if connErr.Feed != string(models.FeedDomestic) {
		t.Errorf("error feed = %q, want domestic", connErr.Feed)
	}

	if got := sink.tickCount(); got != 1 {
		t.Fatalf("accepted %d ticks, want 1", got)
	}
	stats := session.Stats()
	if stats.Received != 3 || stats.Accepted != 1 || stats.Dropped != 2 {
		t.Errorf("stats = %+v, want 3 received, 1 accepted, 2 dropped", stats)
	}
}

func TestInternationalSession_CancelIsCleanStop(t *testing.T) {
	server := newFeedServer(t, false, []string{
		`{"type":"tick","data":{"Symbol":"EURUSD","BestBid":{"Price":1.08},"BestAsk":{"Price":1.1}}}`,
	}, true)

	sink := newRecordingSink()
	session := NewInternationalSession(wsURL(server.Server), eurusd, NewNormalizer(fixedRate(80)), sink, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	sink.waitTick(t)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancel")
	}

	if err := session.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestSession_DialFailure(t *testing.T) {
	sink := newRecordingSink()
	session := NewDomesticSession("ws://127.0.0.1:1/feed", gold, NewNormalizer(fixedRate(83)), sink, time.Second, zerolog.Nop())

	err := session.Run(context.Background())
	if !errors.As(err, new(*apperrors.FeedConnectionError)) {
		t.Errorf("Run() error = %v, want FeedConnectionError", err)
	}
}

func TestSession_NoURL(t *testing.T) {
	session := NewInternationalSession("", eurusd, NewNormalizer(fixedRate(80)), newRecordingSink(), 0, zerolog.Nop())
	if err := session.Run(context.Background()); err == nil {
		t.Error("expected error for missing url")
	}
}

func TestRouter_RoutesByClass(t *testing.T) {
	domestic := newFeedServer(t, true, []string{
		`{"instrument_token":"123","last_price":"105.5"}`,
	}, true)
	international := newFeedServer(t, false, []string{
		`{"type":"tick","data":{"Symbol":"EURUSD","BestBid":{"Price":1.08},"BestAsk":{"Price":1.1}}}`,
	}, true)

	sink := newRecordingSink()
	router := NewRouter(RouterConfig{
		DomesticURL:      wsURL(domestic.Server),
		InternationalURL: wsURL(international.Server),
		HandshakeTimeout: time.Second,
	}, NewNormalizer(fixedRate(80)), sink, zerolog.Nop())
	defer router.Close()

	sub, err := router.Open(context.Background(), gold)
	if err != nil {
		t.Fatalf("Open(gold) error = %v", err)
	}
	if sub.Kind() != models.FeedDomestic {
		t.Errorf("gold routed to %s, want domestic", sub.Kind())
	}
	sink.waitTick(t)

	fx, err := router.Open(context.Background(), eurusd)
	if err != nil {
		t.Fatalf("Open(eurusd) error = %v", err)
	}
	if fx.Kind() != models.FeedInternational {
		t.Errorf("eurusd routed to %s, want international", fx.Kind())
	}
	sink.waitTick(t)

	select {
	case <-sub.Done():
	default:
		t.Error("previous subscription should be stopped before the new one opens")
	}
	if sub.Err() != nil {
		t.Errorf("replaced subscription error = %v, want nil", sub.Err())
	}
	if router.Current() != fx {
		t.Error("Current() should return the latest subscription")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.opened) != 2 || sink.opened[0] != gold.Name || sink.opened[1] != eurusd.Name {
		t.Errorf("opened = %v", sink.opened)
	}
	if len(sink.discarded) != 1 || sink.discarded[0] != gold.Name {
		t.Errorf("discarded = %v, want [%s]", sink.discarded, gold.Name)
	}
}

func TestRouter_RejectsEmptySymbol(t *testing.T) {
	router := NewRouter(RouterConfig{}, NewNormalizer(fixedRate(80)), newRecordingSink(), zerolog.Nop())
	if _, err := router.Open(context.Background(), models.Symbol{}); !errors.Is(err, apperrors.ErrNoSymbol) {
		t.Errorf("Open(empty) error = %v, want ErrNoSymbol", err)
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	server := newFeedServer(t, true, nil, true)
	sink := newRecordingSink()
	router := NewRouter(RouterConfig{DomesticURL: wsURL(server.Server)}, NewNormalizer(fixedRate(80)), sink, zerolog.Nop())

	sub, err := router.Open(context.Background(), gold)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	<-server.hello

	sub.Close()
	sub.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.discarded) != 1 {
		t.Errorf("Discard called %d times, want 1", len(sink.discarded))
	}
	if len(sink.stopped) != 1 || sink.stopped[0] != nil {
		t.Errorf("stopped = %v, want one clean stop", sink.stopped)
	}
}
