// Package report renders a backtest run into a self-contained HTML page:
// equity curve, drawdown curve and per-trade PnL bars.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"stratus/internal/backtest"
	"stratus/internal/risk"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorBalance       = "#fbbf24"
	colorDrawdown      = "#f87171"
	colorWin           = "#34d399"
	colorLoss          = "#f87171"

	chartWidthPx     = 1400
	equityHeightPx   = 520
	drawdownHeightPx = 260
	tradesHeightPx   = 320
)

// Render writes the full report page for one run.
func Render(w io.Writer, run backtest.Run, trades []risk.ClosedTrade, snaps []backtest.Snapshot) error {
	if len(snaps) == 0 {
		return fmt.Errorf("run %s has no equity snapshots", run.ID)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s backtest %s", strings.ToUpper(run.Symbol), run.ID)

	xAxis := buildXAxis(snaps)
	page.AddCharts(
		buildEquityChart(run, xAxis, snaps),
		buildDrawdownChart(xAxis, snaps),
	)
	if len(trades) > 0 {
		page.AddCharts(buildTradesChart(trades))
	}
	return page.Render(w)
}

func buildXAxis(snaps []backtest.Snapshot) []string {
	x := make([]string, len(snaps))
	for i, s := range snaps {
		x[i] = time.UnixMilli(s.TS).UTC().Format("01-02 15:04")
	}
	return x
}

func buildEquityChart(run backtest.Run, xAxis []string, snaps []backtest.Snapshot) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s/%s equity", strings.ToUpper(run.Symbol), run.Config.BiasTimeframe, run.Config.EntryTimeframe),
			Subtitle:      summaryLine(run),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)

	equity := make([]opts.LineData, len(snaps))
	balance := make([]opts.LineData, len(snaps))
	for i, s := range snaps {
		equity[i] = opts.LineData{Value: s.Equity}
		balance[i] = opts.LineData{Value: s.Balance}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.AddSeries("Balance", balance,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorBalance, Width: 1}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func buildDrawdownChart(xAxis []string, snaps []backtest.Snapshot) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)

	data := make([]opts.LineData, len(snaps))
	for i, s := range snaps {
		data[i] = opts.LineData{Value: s.Drawdown * 100}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.2)}))
	return line
}

func buildTradesChart(trades []risk.ClosedTrade) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", tradesHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Trade PnL", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)

	xAxis := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, tr := range trades {
		xAxis[i] = fmt.Sprintf("#%d %s %s", i+1, tr.Side, tr.Reason)
		color := colorLoss
		if tr.PnL >= 0 {
			color = colorWin
		}
		data[i] = opts.BarData{
			Value:     tr.PnL,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("PnL", data)
	return bar
}

func summaryLine(run backtest.Run) string {
	s := run.Stats
	return fmt.Sprintf("return %.2f%% | trades %d | win rate %.0f%% | max DD %.2f%% | fees %.2f",
		s.ReturnPct, s.Trades, s.WinRate*100, s.MaxDrawdownPct, s.TotalFees)
}
