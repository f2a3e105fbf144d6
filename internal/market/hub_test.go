package market

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"market-engine/internal/models"
)

func tickUpdate(symbol string, ltp float64) models.MarketUpdate {
	return models.MarketUpdate{
		Kind:     models.UpdateTick,
		Symbol:   symbol,
		Snapshot: models.MarketSnapshot{Symbol: symbol, Local: models.Quote{LTP: ltp}},
	}
}

// Property: every fast subscriber of a symbol receives every update published
// for it, in publish order.
func TestProperty_AllSubscribersReceiveUpdatesInOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	symbols := []string{"GOLD_24DEC", "SILVER_24DEC", "EURUSD", "BTCUSD"}

	properties.Property("fast subscribers receive all updates in order", prop.ForAll(
		func(subscriberCount, updateCount, symbolIdx int, basePrice float64) bool {
			symbol := symbols[symbolIdx]

			hub := NewHubWithConfig(HubConfig{BufferSize: 1000, SubscriberBufferSize: 100})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hub.Start(ctx)
			defer hub.Stop()

			channels := make([]<-chan models.MarketUpdate, subscriberCount)
			for i := range channels {
				channels[i] = hub.Subscribe(symbol)
			}

			for i := 0; i < updateCount; i++ {
				hub.Publish(tickUpdate(symbol, basePrice+float64(i)))
			}

			for _, ch := range channels {
				for i := 0; i < updateCount; i++ {
					select {
					case u := <-ch:
						if u.Snapshot.Local.LTP != basePrice+float64(i) {
							return false
						}
					case <-time.After(2 * time.Second):
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 50),
		gen.IntRange(0, len(symbols)-1),
		gen.Float64Range(100, 5000),
	))

	properties.TestingRun(t)
}

func TestHub_SymbolFilteringAndWildcard(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	gold := hub.Subscribe("GOLD")
	all := hub.Subscribe(AllSymbols)

	hub.Publish(tickUpdate("SILVER", 1))
	hub.Publish(tickUpdate("GOLD", 2))

	select {
	case u := <-gold:
		if u.Symbol != "GOLD" {
			t.Errorf("GOLD subscriber got %s", u.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GOLD subscriber got nothing")
	}

	for _, want := range []string{"SILVER", "GOLD"} {
		select {
		case u := <-all:
			if u.Symbol != want {
				t.Errorf("wildcard subscriber got %s, want %s", u.Symbol, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("wildcard subscriber missed %s", want)
		}
	}

	select {
	case u := <-gold:
		t.Errorf("GOLD subscriber got unexpected %s update", u.Symbol)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHubWithConfig(HubConfig{BufferSize: 100, SubscriberBufferSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	slow := hub.Subscribe("GOLD")
	var got atomic.Int64
	done := make(chan struct{})
	hub.RegisterConsumer(NewConsumerFunc([]string{"GOLD"}, func(u models.MarketUpdate) {
		if got.Add(1) == 10 {
			close(done)
		}
	}))

	for i := 0; i < 10; i++ {
		hub.Publish(tickUpdate("GOLD", float64(i)))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not see every update while a subscriber was full")
	}

	if len(slow) != 1 {
		t.Errorf("slow subscriber buffered %d updates, want 1", len(slow))
	}
	if m := hub.Metrics(); m.Dropped != 9 || m.Received != 10 {
		t.Errorf("metrics = %+v, want 10 received and 9 dropped", m)
	}
}

func stopUpdate(symbol string) models.MarketUpdate {
	return models.MarketUpdate{Kind: models.UpdateFeedStopped, Symbol: symbol, Reason: "closed"}
}

func TestHub_PublishWaitOnFullQueue(t *testing.T) {
	hub := NewHubWithConfig(HubConfig{BufferSize: 1})
	hub.Publish(tickUpdate("GOLD", 1))

	if hub.PublishWait(stopUpdate("GOLD"), 20*time.Millisecond) {
		t.Fatal("PublishWait() = true with a full queue and no delivery loop")
	}
	if m := hub.Metrics(); m.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", m.Dropped)
	}

	sub := hub.Subscribe("GOLD")
	queued := make(chan bool, 1)
	go func() { queued <- hub.PublishWait(stopUpdate("GOLD"), 2*time.Second) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	if !<-queued {
		t.Fatal("PublishWait() = false once the queue drained")
	}
	for _, want := range []models.UpdateKind{models.UpdateTick, models.UpdateFeedStopped} {
		select {
		case u := <-sub:
			if u.Kind != want {
				t.Errorf("got %s update, want %s", u.Kind, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s update", want)
		}
	}
}

func TestHub_FeedStoppedWaitsForFullSubscriber(t *testing.T) {
	hub := NewHubWithConfig(HubConfig{BufferSize: 10, SubscriberBufferSize: 1, ControlWait: 2 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	sub := hub.Subscribe("GOLD")
	hub.Publish(tickUpdate("GOLD", 1))
	hub.Publish(tickUpdate("GOLD", 2))
	hub.Publish(stopUpdate("GOLD"))

	// Let the delivery loop fill the buffer and block on the stop update.
	time.Sleep(50 * time.Millisecond)

	var kinds []models.UpdateKind
	for len(kinds) < 2 {
		select {
		case u := <-sub:
			kinds = append(kinds, u.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %v, want a tick then feed_stopped", kinds)
		}
	}
	if kinds[0] != models.UpdateTick || kinds[1] != models.UpdateFeedStopped {
		t.Errorf("received %v, want [tick feed_stopped]", kinds)
	}
	// The second tick found the buffer full and was dropped.
	if m := hub.Metrics(); m.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", m.Dropped)
	}
}

func TestHub_ConsumersSeePublishOrder(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Stop()

	var mu sync.Mutex
	var seen []float64
	done := make(chan struct{})
	consumer := NewConsumerFunc(nil, func(u models.MarketUpdate) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u.Snapshot.Local.LTP)
		if len(seen) == 5 {
			close(done)
		}
	})
	hub.RegisterConsumer(consumer)

	for i := 0; i < 5; i++ {
		hub.Publish(tickUpdate("GOLD", float64(i)))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not receive all updates")
	}

	mu.Lock()
	for i, v := range seen {
		if v != float64(i) {
			t.Errorf("update %d = %v, want %d", i, v, i)
		}
	}
	mu.Unlock()

	hub.UnregisterConsumer(consumer)
	hub.Publish(tickUpdate("GOLD", 99))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Errorf("unregistered consumer received %d updates, want 5", len(seen))
	}
}

func TestHub_UnsubscribeAndStop(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)

	if !hub.IsStarted() {
		t.Error("IsStarted() = false after Start")
	}

	a := hub.Subscribe("GOLD")
	b := hub.SubscribeWithID("GOLD", "cli")
	if n := hub.SubscriberCount("GOLD"); n != 2 {
		t.Errorf("SubscriberCount() = %d, want 2", n)
	}

	hub.Unsubscribe("GOLD", a)
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if n := hub.SubscriberCount("GOLD"); n != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", n)
	}

	hub.Stop()
	if _, ok := <-b; ok {
		t.Error("Stop() should close remaining channels")
	}
	if hub.IsStarted() {
		t.Error("IsStarted() = true after Stop")
	}
}
