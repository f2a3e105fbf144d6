package cli

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"market-engine/internal/backend"
	"market-engine/internal/currency"
	"market-engine/internal/exposure"
	"market-engine/internal/feed"
	"market-engine/internal/market"
	"market-engine/internal/models"
	"market-engine/internal/order"
	"market-engine/internal/security"
)

// addSymbolFlags registers the flags identifying an instrument.
func addSymbolFlags(cmd *cobra.Command) {
	cmd.Flags().String("class", "", "exchange class (MCX, NSE, CDS_OPT, FOREX, CRYPTO, COMMODITY)")
	cmd.Flags().String("token", "", "instrument token")
	cmd.Flags().String("name", "", "instrument name, e.g. GOLD_24DEC or EURUSD")
	cmd.Flags().Float64("lot-unit", 1, "contract units per lot")
	cmd.MarkFlagRequired("class")
	cmd.MarkFlagRequired("name")
}

// symbolFromFlags builds the symbol described by the instrument flags.
func symbolFromFlags(cmd *cobra.Command) (models.Symbol, error) {
	classFlag, _ := cmd.Flags().GetString("class")
	token, _ := cmd.Flags().GetString("token")
	name, _ := cmd.Flags().GetString("name")
	lotUnit, _ := cmd.Flags().GetFloat64("lot-unit")

	class, ok := models.ParseExchangeClass(classFlag)
	if !ok {
		return models.Symbol{}, fmt.Errorf("unknown exchange class %q", classFlag)
	}
	name = security.SanitizeSymbol(name)
	if err := security.ValidateSymbol(name); err != nil {
		return models.Symbol{}, err
	}
	if !(lotUnit > 0) || math.IsInf(lotUnit, 0) {
		return models.Symbol{}, fmt.Errorf("--lot-unit must be a positive number, got %v", lotUnit)
	}
	if class.FeedKind() == models.FeedDomestic {
		if token == "" {
			return models.Symbol{}, fmt.Errorf("--token is required for %s instruments", class)
		}
		if err := security.ValidateToken(token); err != nil {
			return models.Symbol{}, err
		}
	}
	return models.Symbol{
		Token:       token,
		Name:        name,
		Class:       class,
		LotUnitSize: lotUnit,
	}, nil
}

// newConverter creates the currency converter from configuration.
func (a *App) newConverter() *currency.Converter {
	c := a.Config.Currency
	return currency.NewConverter(currency.Config{
		RateURL:         c.RateURL,
		Currency:        c.Currency,
		RefreshInterval: c.RefreshInterval,
		DefaultRate:     c.DefaultRate,
		Timeout:         c.Timeout,
	}, a.Logger)
}

// newExposureProvider opens the configured exposure parameter store. The
// returned close function releases it.
func (a *App) newExposureProvider(ctx context.Context) (exposure.Provider, func() error, error) {
	if a.Config.Exposure.Source == "redis" {
		p, err := exposure.NewRedisProvider(ctx, a.Config.Redis, a.Config.Exposure.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	p := exposure.NewStaticProviderFromConfig(a.Config.Exposure)
	a.Logger.Debug().Int("keys", p.Keys()).Msg("Static exposure provider loaded")
	return p, func() error { return nil }, nil
}

// streamEngine is the live market data side of the application: rate
// refresh, feed routing, the processing pipeline and update fan-out.
type streamEngine struct {
	converter *currency.Converter
	hub       *market.Hub
	pipeline  *market.Pipeline
	router    *feed.Router
}

func (a *App) newStreamEngine() *streamEngine {
	converter := a.newConverter()
	hub := market.NewHub()
	pipeline := market.NewPipeline(
		market.NewSnapshotStore(),
		market.NewAggregator(a.Config.Candles.HistorySize),
		hub,
		a.Logger,
	)
	if a.Store != nil {
		pipeline.SetCandleSink(a.Store)
	}

	router := feed.NewRouter(feed.RouterConfig{
		DomesticURL:      a.Config.Feeds.DomesticURL,
		InternationalURL: a.Config.Feeds.InternationalURL,
		HandshakeTimeout: a.Config.Feeds.HandshakeTimeout,
	}, feed.NewNormalizer(converter), pipeline, a.Logger)

	return &streamEngine{
		converter: converter,
		hub:       hub,
		pipeline:  pipeline,
		router:    router,
	}
}

// run streams sym and calls consume with the symbol's updates until consume
// returns, the feed stops or ctx is cancelled.
func (e *streamEngine) run(ctx context.Context, sym models.Symbol, consume func(ctx context.Context, updates <-chan models.MarketUpdate) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.hub.Start(ctx)
	defer e.hub.Stop()
	updates := e.hub.Subscribe(sym.Name)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.converter.Run(ctx)
	})

	sub, err := e.router.Open(ctx, sym)
	if err != nil {
		cancel()
		g.Wait()
		return err
	}
	defer e.router.Close()

	g.Go(func() error {
		defer cancel()
		select {
		case <-sub.Done():
			return sub.Err()
		case <-ctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		defer cancel()
		return consume(ctx, updates)
	})

	return g.Wait()
}

// waitForQuote returns the first snapshot with a usable quote, or an error
// when none arrives within timeout.
func waitForQuote(ctx context.Context, updates <-chan models.MarketUpdate, timeout time.Duration) (models.MarketSnapshot, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.MarketSnapshot{}, ctx.Err()
		case <-timer.C:
			return models.MarketSnapshot{}, fmt.Errorf("no quote received within %s", timeout)
		case u, ok := <-updates:
			if !ok {
				return models.MarketSnapshot{}, fmt.Errorf("update stream closed")
			}
			if u.Kind == models.UpdateFeedStopped {
				return models.MarketSnapshot{}, fmt.Errorf("feed stopped: %s", u.Reason)
			}
			if u.Snapshot.Local.Ask > 0 || u.Snapshot.Local.Bid > 0 {
				return u.Snapshot, nil
			}
		}
	}
}

// newOrchestrator wires the order orchestrator to the backend services and
// the snapshots of e.
func (a *App) newOrchestrator(e *streamEngine, margins order.MarginCalculator) *order.Orchestrator {
	client := backend.NewClient(a.Config.Backend, a.Logger)
	cfg := order.OrchestratorConfig{
		UserID:    a.Config.Backend.UserID,
		Validator: order.NewValidator(margins),
		Snapshots: e.pipeline.Snapshots(),
		Balances:  client,
		Checker:   client,
		Saver:     client,
	}
	if a.Store != nil {
		cfg.Recorder = a.Store
	}
	return order.NewOrchestrator(cfg, a.Logger)
}

func formatRatio(r float64) string {
	if r <= 0 {
		return "-"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func formatCount(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}
