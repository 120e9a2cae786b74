package performance

// NamedReport pairs a report with the label of the run that produced it.
type NamedReport struct {
	Name   string
	Report *Report
}

// Comparison names the best run on each headline metric. Names are empty when no report was given.
type Comparison struct {
	Rows        []ComparisonRow `json:"rows"`
	BestReturn  string          `json:"best_return"`
	BestSharpe  string          `json:"best_sharpe"`
	LowestMaxDD string          `json:"lowest_mdd"`
}

// ComparisonRow is one run's headline metrics.
type ComparisonRow struct {
	Name        string  `json:"name"`
	TotalReturn float64 `json:"total_return"`
	SharpeRatio Ratio   `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	TotalTrades int     `json:"total_trades"`
}

// CompareResults ranks several runs. Ties keep the earlier run.
func CompareResults(reports []NamedReport) Comparison {
	var c Comparison
	bestReturn, bestSharpe, lowestDD := -1, -1, -1
	for _, nr := range reports {
		if nr.Report == nil {
			continue
		}
		r := nr.Report
		c.Rows = append(c.Rows, ComparisonRow{
			Name:        nr.Name,
			TotalReturn: r.Returns.TotalReturn,
			SharpeRatio: r.Risk.SharpeRatio,
			MaxDrawdown: r.Risk.MaxDrawdown,
			WinRate:     r.Trades.WinRate,
			TotalTrades: r.Trades.TotalTrades,
		})
		i := len(c.Rows) - 1
		if bestReturn < 0 || c.Rows[i].TotalReturn > c.Rows[bestReturn].TotalReturn {
			bestReturn = i
		}
		if bestSharpe < 0 || c.Rows[i].SharpeRatio > c.Rows[bestSharpe].SharpeRatio {
			bestSharpe = i
		}
		if lowestDD < 0 || c.Rows[i].MaxDrawdown < c.Rows[lowestDD].MaxDrawdown {
			lowestDD = i
		}
	}
	if len(c.Rows) == 0 {
		return c
	}
	c.BestReturn = c.Rows[bestReturn].Name
	c.BestSharpe = c.Rows[bestSharpe].Name
	c.LowestMaxDD = c.Rows[lowestDD].Name
	return c
}
