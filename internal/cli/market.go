package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"market-engine/internal/exposure"
	"market-engine/internal/models"
	"market-engine/internal/order"
	"market-engine/pkg/utils"
)

// addMarketCommands adds market data commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStreamCmd(app))
	rootCmd.AddCommand(newMarginCmd(app))
	rootCmd.AddCommand(newRateCmd(app))
}

func newStreamCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream live quotes and candles for an instrument",
		Long: `Subscribe to the feed serving the instrument's exchange class and print
every processed update. Closed one-minute candles are persisted when the
store is enabled. The stream ends when the feed closes; it does not
reconnect.`,
		Example: `  engine stream --class MCX --token 123 --name GOLD_24DEC
  engine stream --class FOREX --name EURUSD --lot-unit 100000 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			sym, err := symbolFromFlags(cmd)
			if err != nil {
				return err
			}
			candlesOnly, _ := cmd.Flags().GetBool("candles")

			engine := app.newStreamEngine()
			if !output.IsJSON() {
				output.Info("Streaming %s (%s) from the %s feed, Ctrl+C to stop", sym.Name, sym.Class, sym.Class.FeedKind())
			}

			return engine.run(cmd.Context(), sym, func(ctx context.Context, updates <-chan models.MarketUpdate) error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case u, ok := <-updates:
						if !ok {
							return nil
						}
						if candlesOnly && (u.Bar == nil || u.Bar.Closed == nil) && u.Kind == models.UpdateTick {
							continue
						}
						if output.IsJSON() {
							output.JSON(u)
							continue
						}
						printUpdate(output, sym, u, candlesOnly)
					}
				}
			})
		},
	}

	addSymbolFlags(cmd)
	cmd.Flags().Bool("candles", false, "print closed candles only")
	return cmd
}

func printUpdate(output *Output, sym models.Symbol, u models.MarketUpdate, candlesOnly bool) {
	if u.Kind == models.UpdateFeedStopped {
		output.Warning("Feed stopped: %s", u.Reason)
		return
	}

	if u.Bar != nil && u.Bar.Closed != nil {
		c := u.Bar.Closed
		output.Printf("%s  %s  O %s  H %s  L %s  C %s\n",
			output.BoldText("CANDLE"),
			c.Time().Local().Format("15:04"),
			utils.FormatPrice(c.Open), utils.FormatPrice(c.High),
			utils.FormatPrice(c.Low), utils.FormatPrice(c.Close))
	}
	if candlesOnly {
		return
	}

	s := u.Snapshot
	line := fmt.Sprintf("%s  bid %s  ask %s  ltp %s  %s",
		s.UpdatedAt.Local().Format("15:04:05"),
		utils.FormatPrice(s.Local.Bid),
		utils.FormatPrice(s.Local.Ask),
		utils.FormatPrice(s.Local.LTP),
		output.ChangeColor(s.Local.Change))
	if sym.Class.IsFX() && s.HasUSD {
		line += output.DimText(fmt.Sprintf("  (USD %s / %s)",
			utils.FormatPrice(s.USD.Bid), utils.FormatPrice(s.USD.Ask)))
	}
	output.Println(line)
}

func newMarginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "margin",
		Short: "Compute the margin required for a position",
		Long: `Compute intraday and holding margin for a position of --lots lots.

With --price the margin is computed at that price (USD for FOREX and
CRYPTO, converted at the current exchange rate). Without it the engine
waits for a live quote and prices at the ask for BUY or the bid for SELL.`,
		Example: `  engine margin --class MCX --token 123 --name GOLD_24DEC --lots 2
  engine margin --class NSE --token 456 --name RELIANCE --lot-unit 250 --lots 1 --price 2900`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			sym, err := symbolFromFlags(cmd)
			if err != nil {
				return err
			}
			lots, _ := cmd.Flags().GetFloat64("lots")
			price, _ := cmd.Flags().GetFloat64("price")
			sideFlag, _ := cmd.Flags().GetString("side")
			wait, _ := cmd.Flags().GetDuration("wait")

			side, err := parseSide(sideFlag)
			if err != nil {
				return err
			}
			if err := order.CheckLotSize(lots, sym.Class); err != nil {
				return err
			}

			ctx := cmd.Context()
			provider, closeProvider, err := app.newExposureProvider(ctx)
			if err != nil {
				return fmt.Errorf("opening exposure store: %w", err)
			}
			defer closeProvider()
			calc := exposure.NewCalculator(provider, app.Logger)

			var quote models.MarginQuote
			var priceLocal float64
			if price > 0 {
				priceLocal = price
				if sym.Class.IsFX() {
					converter := app.newConverter()
					if _, err := converter.Refresh(ctx); err != nil {
						app.Logger.Warn().Err(err).Msg("Using default exchange rate")
					}
					priceLocal = converter.ToLocal(price)
				}
				quote, err = calc.Margin(ctx, sym, lots, priceLocal)
				if err != nil {
					return err
				}
			} else {
				validator := order.NewValidator(calc)
				req := models.OrderRequest{Side: side, Class: models.OrderClassMarket, LotSize: lots}
				engine := app.newStreamEngine()
				err = engine.run(ctx, sym, func(ctx context.Context, updates <-chan models.MarketUpdate) error {
					snap, err := waitForQuote(ctx, updates, wait)
					if err != nil {
						return err
					}
					priceLocal, _, err = order.ResolvePrice(req, sym.Class, snap)
					if err != nil {
						return err
					}
					quote, err = validator.Preview(ctx, req, &sym, snap)
					return err
				})
				if err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":   sym.Name,
					"class":    sym.Class,
					"side":     side,
					"lots":     lots,
					"price":    priceLocal,
					"intraday": quote.Intraday.Round(2),
					"holding":  quote.Holding.Round(2),
				})
			}

			output.Box(fmt.Sprintf("Margin %s %s", side, sym.Name), []string{
				fmt.Sprintf("Lots:      %s", utils.FormatLots(lots)),
				fmt.Sprintf("Price:     %s", utils.FormatIndianCurrency(priceLocal)),
				fmt.Sprintf("Intraday:  %s", utils.FormatMargin(quote.Intraday)),
				fmt.Sprintf("Holding:   %s", utils.FormatMargin(quote.Holding)),
			})
			return nil
		},
	}

	addSymbolFlags(cmd)
	cmd.Flags().Float64("lots", 1, "lot size")
	cmd.Flags().Float64("price", 0, "price (USD for FOREX/CRYPTO); live quote when omitted")
	cmd.Flags().String("side", "BUY", "order side (BUY or SELL)")
	cmd.Flags().Duration("wait", 30*time.Second, "how long to wait for a live quote")
	return cmd
}

func newRateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rate",
		Short: "Fetch the current USD exchange rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			converter := app.newConverter()
			rate, err := converter.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"currency":   app.Config.Currency.Currency,
					"rate":       rate,
					"updated_at": converter.UpdatedAt(),
				})
			}
			output.Printf("1 USD = %s %s\n", rate.StringFixed(4), app.Config.Currency.Currency)
			output.Dim("Source: %s", app.Config.Currency.RateURL)
			return nil
		},
	}
}

func parseSide(s string) (models.OrderSide, error) {
	switch models.OrderSide(s) {
	case models.OrderSideBuy, models.OrderSideSell:
		return models.OrderSide(s), nil
	}
	switch s {
	case "buy", "b":
		return models.OrderSideBuy, nil
	case "sell", "s":
		return models.OrderSideSell, nil
	}
	return "", fmt.Errorf("invalid side %q (must be BUY or SELL)", s)
}
