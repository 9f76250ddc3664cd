// Package report 把资金曲线渲染成 go-echarts 报表，可选用 headless
// Chrome 截成 PNG。
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"marlin/internal/engine"
	"marlin/internal/portfolio"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground = "#060c1b"
	colorText       = "#eceff4"
	colorEquity     = "#34d399"
	colorDrawdown   = "#f87171"

	chartWidthPx  = 1200
	chartHeightPx = 420
)

// RenderHTML 渲染资金曲线与回撤两张折线图。
func RenderHTML(points []portfolio.EquityPoint, metrics engine.PerformanceMetrics) ([]byte, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no equity history to render")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(buildEquityLine(points, metrics), buildDrawdownLine(points))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPNG 渲染 HTML 并用 chromedp 截图。没有可用浏览器时返回错误，
// 调用方可以退回 HTML。
func RenderPNG(ctx context.Context, points []portfolio.EquityPoint, metrics engine.PerformanceMetrics) ([]byte, error) {
	html, err := RenderHTML(points, metrics)
	if err != nil {
		return nil, err
	}
	return renderHTMLToPNG(ctx, html, chartWidthPx, chartHeightPx*2+80)
}

func buildEquityLine(points []portfolio.EquityPoint, metrics engine.PerformanceMetrics) *charts.Line {
	line := charts.NewLine()
	title := fmt.Sprintf("Equity (return %.2f%%, win rate %.0f%%)",
		metrics.ReturnPercent, metrics.WinRate*100)
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: title, Left: "left", TitleStyle: &opts.TextStyle{Color: colorText}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	xs := make([]string, len(points))
	ys := make([]opts.LineData, len(points))
	for i, p := range points {
		xs[i] = p.Timestamp.Format(time.DateTime)
		ys[i] = opts.LineData{Value: p.Equity}
	}
	line.SetXAxis(xs).AddSeries("equity", ys,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildDrawdownLine(points []portfolio.EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorText}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	xs := make([]string, len(points))
	ys := make([]opts.LineData, len(points))
	peak := points[0].Equity
	for i, p := range points {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = -(peak - p.Equity) / peak * 100
		}
		xs[i] = p.Timestamp.Format(time.DateTime)
		ys[i] = opts.LineData{Value: dd}
	}
	line.SetXAxis(xs).AddSeries("drawdown", ys,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
