package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-engine/internal/logging"
	"market-engine/internal/models"
)

// CandleSink persists closed candles.
type CandleSink interface {
	SaveCandle(ctx context.Context, c models.Candle) error
}

const (
	sinkTimeout        = 5 * time.Second
	stopPublishTimeout = 2 * time.Second
)

// Pipeline merges normalized ticks into snapshots and candles and publishes
// the result. Processing of one message is atomic with respect to other
// messages for the same symbol.
type Pipeline struct {
	snapshots *SnapshotStore
	candles   *Aggregator
	hub       *Hub
	sink      CandleSink
	logger    zerolog.Logger
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPipeline creates a pipeline over the given stores.
func NewPipeline(snapshots *SnapshotStore, candles *Aggregator, hub *Hub, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		snapshots: snapshots,
		candles:   candles,
		hub:       hub,
		logger:    logging.WithComponent(logger, "pipeline"),
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetCandleSink sets where closed candles are persisted.
func (p *Pipeline) SetCandleSink(sink CandleSink) {
	p.sink = sink
}

// Snapshots returns the pipeline's snapshot store.
func (p *Pipeline) Snapshots() *SnapshotStore { return p.snapshots }

// Candles returns the pipeline's candle aggregator.
func (p *Pipeline) Candles() *Aggregator { return p.candles }

func (p *Pipeline) lockFor(symbol string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()

	l, ok := p.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		p.locks[symbol] = l
	}
	return l
}

// Open creates empty state for sym.
func (p *Pipeline) Open(sym models.Symbol) {
	l := p.lockFor(sym.Name)
	l.Lock()
	defer l.Unlock()

	p.snapshots.Open(sym.Name)
	p.candles.Discard(sym.Name)
}

// Accept merges one normalized tick and publishes the resulting update.
// Ticks for a symbol that is not open are ignored. A tick without a trade
// price updates the snapshot and publishes no bar.
func (p *Pipeline) Accept(sym models.Symbol, nt models.NormalizedTick) {
	l := p.lockFor(sym.Name)
	l.Lock()
	snap, ok := p.snapshots.Apply(sym.Name, nt.Delta, p.now())
	if !ok {
		l.Unlock()
		return
	}
	var bar *models.BarEvent
	if nt.HasTrade() {
		ev := p.candles.Update(sym.Name, nt.Tick)
		bar = &ev
	}
	l.Unlock()

	if bar != nil && bar.Closed != nil {
		p.persist(*bar.Closed)
	}

	p.hub.Publish(models.MarketUpdate{
		Kind:     models.UpdateTick,
		Symbol:   sym.Name,
		Snapshot: snap,
		Bar:      bar,
	})
}

func (p *Pipeline) persist(c models.Candle) {
	logging.LogBar(p.logger, c.Symbol, c.BucketStart, c.Open, c.High, c.Low, c.Close)

	if p.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := p.sink.SaveCandle(ctx, c); err != nil {
		p.logger.Warn().Err(err).Str("symbol", c.Symbol).Msg("Failed to persist candle")
	}
}

// Stopped publishes a feed-stopped update so consumers can tell live data
// from a dead feed.
func (p *Pipeline) Stopped(sym models.Symbol, err error) {
	reason := "closed"
	if err != nil {
		reason = err.Error()
	}
	snap, _ := p.snapshots.Get(sym.Name)
	queued := p.hub.PublishWait(models.MarketUpdate{
		Kind:     models.UpdateFeedStopped,
		Symbol:   sym.Name,
		Snapshot: snap,
		Reason:   reason,
	}, stopPublishTimeout)
	if !queued {
		p.logger.Warn().Str("symbol", sym.Name).Str("reason", reason).Msg("Feed stopped update dropped, hub queue full")
	}
}

// Discard drops the symbol's snapshot and candles.
func (p *Pipeline) Discard(sym models.Symbol) {
	l := p.lockFor(sym.Name)
	l.Lock()
	p.snapshots.Discard(sym.Name)
	p.candles.Discard(sym.Name)
	l.Unlock()

	p.locksMu.Lock()
	delete(p.locks, sym.Name)
	p.locksMu.Unlock()
}
