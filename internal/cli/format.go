package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"simtrader/internal/models"
	"simtrader/pkg/utils"
)

// renderPortfolio prints the account summary followed by the holdings table.
func renderPortfolio(o *Output, pf models.Portfolio) error {
	if o.IsJSON() {
		return o.JSON(pf)
	}

	o.Printf("%s\n", o.BoldText("Portfolio"))
	o.Printf("  Cash Balance:     %s\n", utils.FormatCurrency(pf.Balance))
	o.Printf("  Portfolio Value:  %s\n", utils.FormatCurrency(pf.PortfolioValue))
	o.Printf("  Total Value:      %s\n", utils.FormatCurrency(pf.TotalValue))
	o.Printf("  Total Gain/Loss:  %s\n", o.Signed(pf.TotalGainLoss,
		fmt.Sprintf("%s (%s)", utils.FormatChange(pf.TotalGainLoss), utils.FormatPercent(pf.TotalGainLossPercent))))
	o.Println()

	if len(pf.Holdings) == 0 {
		o.Dim("No holdings yet. Start trading to build your portfolio!")
		return nil
	}

	table := NewTable(o, "SYMBOL", "SHARES", "AVG PRICE", "CURRENT", "MARKET VALUE", "GAIN/LOSS", "GAIN %")
	for _, h := range pf.Holdings {
		table.AddRow(
			o.Cyan(h.Symbol),
			utils.FormatShares(h.Shares),
			utils.FormatCurrency(h.AvgPrice),
			utils.FormatCurrency(h.CurrentPrice),
			utils.FormatCurrency(h.MarketValue),
			o.Signed(h.GainLoss, utils.FormatChange(h.GainLoss)),
			o.Signed(h.GainLossPercent, utils.FormatPercent(h.GainLossPercent)),
		)
	}
	table.Render()
	return nil
}

func renderWatchlist(o *Output, entries []models.WatchlistEntry) error {
	if o.IsJSON() {
		return o.JSON(entries)
	}
	if len(entries) == 0 {
		o.Dim("No stocks in watchlist. Add some from the trading section!")
		return nil
	}

	table := NewTable(o, "SYMBOL", "NAME", "PRICE", "CHANGE", "CHANGE %")
	for _, e := range entries {
		table.AddRow(
			o.Cyan(e.Symbol),
			e.Name,
			utils.FormatCurrency(e.Price),
			o.Signed(e.Change, utils.FormatChange(e.Change)),
			o.Signed(e.ChangePercent, utils.FormatPercent(e.ChangePercent)),
		)
	}
	table.Render()
	return nil
}

func renderHistory(o *Output, txs []models.Transaction) error {
	if o.IsJSON() {
		return o.JSON(txs)
	}
	if len(txs) == 0 {
		o.Dim("No transactions yet.")
		return nil
	}

	table := NewTable(o, "TIME", "SYMBOL", "TYPE", "SHARES", "PRICE", "TOTAL")
	for _, tx := range txs {
		kind := tx.Type
		switch models.TradeKind(tx.Type) {
		case models.TradeBuy:
			kind = o.Green("BUY")
		case models.TradeSell:
			kind = o.Red("SELL")
		}
		table.AddRow(
			tx.Timestamp,
			o.Cyan(tx.Symbol),
			kind,
			utils.FormatShares(tx.Shares),
			utils.FormatCurrency(tx.Price),
			utils.FormatCurrency(tx.TotalAmount),
		)
	}
	table.Render()
	return nil
}

// stockView is the JSON shape of the trading section.
type stockView struct {
	models.Stock
	Shares        string  `json:"shares"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// renderStock prints the selected stock and the trade ticket estimate.
func renderStock(o *Output, stock models.Stock, shares string, estimate float64) error {
	if o.IsJSON() {
		return o.JSON(stockView{Stock: stock, Shares: shares, EstimatedCost: estimate})
	}

	o.Printf("%s  %s\n", o.BoldText(stock.Symbol), stock.Name)
	o.Printf("  Price:   %s\n", quoteLine(o, stock))
	o.Printf("  Shares:  %s\n", shares)
	o.Printf("  Est. cost: %s\n", utils.FormatCurrency(estimate))
	return nil
}

// quoteLine renders "price  change (percent)".
func quoteLine(o *Output, stock models.Stock) string {
	change := fmt.Sprintf("%s (%s)", utils.FormatChange(stock.Change), utils.FormatPercent(stock.ChangePercent))
	return utils.FormatCurrency(stock.Price) + "  " + o.Signed(stock.Change, change)
}

func renderSearchResults(o *Output, results []models.SearchResult) error {
	if o.IsJSON() {
		return o.JSON(results)
	}
	if len(results) == 0 {
		o.Dim("No stocks found")
		return nil
	}
	for _, r := range results {
		o.Printf("  %s %-32s %s\n", o.Cyan(fmt.Sprintf("%-8s", r.Symbol)), r.Name, utils.FormatCurrency(r.Price))
	}
	return nil
}

// renderInsight pretty-prints an opaque AI payload.
func renderInsight(o *Output, title string, insight models.Insight) error {
	if o.IsJSON() {
		return o.JSON(insight)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, insight, "  ", "  "); err != nil {
		buf.Reset()
		buf.Write(insight)
	}
	o.Printf("%s\n  %s\n", o.BoldText(title), buf.String())
	return nil
}
