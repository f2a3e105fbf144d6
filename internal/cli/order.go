package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "market-engine/internal/errors"
	"market-engine/internal/exposure"
	"market-engine/internal/models"
	"market-engine/internal/order"
	"market-engine/pkg/utils"
)

// addOrderCommands adds order submission commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newOrderCmd(app))
}

func newOrderCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Validate and submit an order",
		Long: `Stream the instrument until a live quote arrives, then validate the order
against available margin and submit it through the pre-trade check and
save services.

A failed submission is never retried. LIMIT prices for FOREX and CRYPTO
are entered in USD.`,
		Example: `  engine order --class MCX --token 123 --name GOLD_24DEC --side BUY --lots 1
  engine order --class FOREX --name EURUSD --lot-unit 100000 --side SELL --lots 0.05 --type LIMIT --price 1.0850`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			sym, err := symbolFromFlags(cmd)
			if err != nil {
				return err
			}
			req, err := orderRequestFromFlags(cmd)
			if err != nil {
				return err
			}
			wait, _ := cmd.Flags().GetDuration("wait")

			if app.Config.Backend.BaseURL == "" {
				return fmt.Errorf("backend.base_url is not configured")
			}

			ctx := cmd.Context()
			provider, closeProvider, err := app.newExposureProvider(ctx)
			if err != nil {
				return fmt.Errorf("opening exposure store: %w", err)
			}
			defer closeProvider()

			engine := app.newStreamEngine()
			orchestrator := app.newOrchestrator(engine, exposure.NewCalculator(provider, app.Logger))

			var result *order.Result
			var submitErr error
			err = engine.run(ctx, sym, func(ctx context.Context, updates <-chan models.MarketUpdate) error {
				if _, err := waitForQuote(ctx, updates, wait); err != nil {
					return err
				}
				result, submitErr = orchestrator.Submit(ctx, &sym, req)
				return nil
			})
			if err != nil {
				return err
			}
			if submitErr != nil && !apperrors.UserVisible(submitErr) {
				app.Logger.Error().Err(submitErr).Msg("Order submission failed unexpectedly")
			}

			if output.IsJSON() {
				if result == nil {
					output.JSON(map[string]string{"error": submitErr.Error()})
				} else {
					output.JSON(resultJSON(result))
				}
				return submitErr
			}

			printResult(output, sym, result, submitErr)
			return submitErr
		},
	}

	addSymbolFlags(cmd)
	cmd.Flags().String("side", "BUY", "order side (BUY or SELL)")
	cmd.Flags().String("type", "MARKET", "order type (MARKET or LIMIT)")
	cmd.Flags().Float64("lots", 1, "lot size")
	cmd.Flags().Float64("price", 0, "limit price (USD for FOREX/CRYPTO)")
	cmd.Flags().Float64("sl", 0, "stop loss")
	cmd.Flags().Float64("tp", 0, "take profit")
	cmd.Flags().Duration("wait", 30*time.Second, "how long to wait for a live quote")
	return cmd
}

func orderRequestFromFlags(cmd *cobra.Command) (models.OrderRequest, error) {
	sideFlag, _ := cmd.Flags().GetString("side")
	typeFlag, _ := cmd.Flags().GetString("type")
	lots, _ := cmd.Flags().GetFloat64("lots")
	price, _ := cmd.Flags().GetFloat64("price")
	sl, _ := cmd.Flags().GetFloat64("sl")
	tp, _ := cmd.Flags().GetFloat64("tp")

	side, err := parseSide(sideFlag)
	if err != nil {
		return models.OrderRequest{}, err
	}

	var class models.OrderClass
	switch strings.ToUpper(typeFlag) {
	case "MARKET":
		class = models.OrderClassMarket
	case "LIMIT":
		class = models.OrderClassLimit
	default:
		return models.OrderRequest{}, fmt.Errorf("invalid order type %q (must be MARKET or LIMIT)", typeFlag)
	}

	return models.OrderRequest{
		Side:       side,
		Class:      class,
		LotSize:    lots,
		LimitPrice: price,
		StopLoss:   sl,
		TakeProfit: tp,
	}, nil
}

func resultJSON(r *order.Result) map[string]interface{} {
	out := map[string]interface{}{
		"id":    r.ID,
		"state": r.State,
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	if r.Order != nil {
		out["kind"] = r.Order.Kind
		out["status"] = r.Order.Status()
		out["price"] = r.Order.Price
		if r.Order.PriceUSD > 0 {
			out["price_usd"] = r.Order.PriceUSD
		}
		out["margin"] = r.Order.Margin.Intraday
		out["holding_margin"] = r.Order.Margin.Holding
	}
	return out
}

func printResult(output *Output, sym models.Symbol, r *order.Result, err error) {
	if r == nil {
		output.Error("✗ %v", err)
		return
	}

	lines := []string{
		fmt.Sprintf("ID:        %s", r.ID),
		fmt.Sprintf("State:     %s", output.StateColor(string(r.State))),
	}
	if o := r.Order; o != nil {
		lines = append(lines,
			fmt.Sprintf("Side:      %s", output.SideColor(string(o.Request.Side))),
			fmt.Sprintf("Type:      %s (%s)", o.Kind, o.Status()),
			fmt.Sprintf("Lots:      %s", utils.FormatLots(o.Request.LotSize)),
			fmt.Sprintf("Price:     %s", utils.FormatIndianCurrency(o.Price)),
		)
		if sym.Class.IsFX() && o.PriceUSD > 0 {
			lines = append(lines, fmt.Sprintf("Price USD: %s", utils.FormatUSD(o.PriceUSD)))
		}
		lines = append(lines,
			fmt.Sprintf("Margin:    %s", utils.FormatMargin(o.Margin.Intraday)),
			fmt.Sprintf("Holding:   %s", utils.FormatMargin(o.Margin.Holding)),
		)
	}
	if r.Reason != "" {
		lines = append(lines, fmt.Sprintf("Reason:    %s", output.Red(r.Reason)))
	}

	output.Box(fmt.Sprintf("Order %s", sym.Name), lines)
	if r.State == order.StateSucceeded {
		output.Success("✓ Order placed")
	}
}
