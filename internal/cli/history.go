package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"market-engine/internal/security"
	"market-engine/internal/store"
	"market-engine/pkg/utils"
)

// addHistoryCommands adds commands reading the local store.
func addHistoryCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCandlesCmd(app))
	rootCmd.AddCommand(newAttemptsCmd(app))
}

func newCandlesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candles <symbol>",
		Short: "Show stored one-minute candles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store is not available")
			}
			since, _ := cmd.Flags().GetDuration("since")
			symbol := security.SanitizeSymbol(args[0])
			if err := security.ValidateSymbol(symbol); err != nil {
				return err
			}

			to := time.Now()
			candles, err := app.Store.GetCandles(cmd.Context(), symbol, to.Add(-since), to)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(candles)
			}
			if len(candles) == 0 {
				output.Dim("No candles for %s in the last %s", symbol, since)
				return nil
			}

			table := NewTable(output, "TIME", "OPEN", "HIGH", "LOW", "CLOSE")
			for _, c := range candles {
				table.AddRow(
					c.Time().Local().Format("2006-01-02 15:04"),
					utils.FormatPrice(c.Open),
					utils.FormatPrice(c.High),
					utils.FormatPrice(c.Low),
					utils.FormatPrice(c.Close),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Duration("since", 24*time.Hour, "how far back to read")
	return cmd
}

func newAttemptsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recorded order submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store is not available")
			}
			symbol, _ := cmd.Flags().GetString("symbol")
			symbol = security.SanitizeSymbol(symbol)
			state, _ := cmd.Flags().GetString("state")
			limit, _ := cmd.Flags().GetInt("limit")

			attempts, err := app.Store.GetAttempts(cmd.Context(), store.AttemptFilter{
				Symbol: symbol,
				State:  state,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(attempts)
			}
			if len(attempts) == 0 {
				output.Dim("No order attempts recorded")
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "SIDE", "TYPE", "LOTS", "PRICE", "MARGIN", "STATE", "REASON")
			for _, a := range attempts {
				table.AddRow(
					a.SubmittedAt.Local().Format("01-02 15:04:05"),
					a.Symbol,
					output.SideColor(string(a.Side)),
					string(a.Class),
					utils.FormatLots(a.LotSize),
					utils.FormatPrice(a.Price),
					utils.FormatMargin(a.Margin),
					output.StateColor(a.State),
					a.Reason,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().String("state", "", "filter by final state (Succeeded, Failed)")
	cmd.Flags().Int("limit", 20, "maximum rows")
	return cmd
}
