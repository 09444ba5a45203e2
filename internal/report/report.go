// Package report renders the exit chart attached to terminal notifications:
// the recent price action with the entry and exit levels marked. Rendering is
// best-effort; a failure only costs the attachment.
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"vigil/internal/gateway/marketdata"
	"vigil/internal/ledger"
)

const (
	colorBackground = "#060c1b"
	colorText       = "#eceff4"
	colorTextDim    = "#9ca3af"
	colorBull       = "#34d399"
	colorBear       = "#f87171"
	colorEntry      = "#3b82f6"
	colorExit       = "#fbbf24"

	chartWidthPx  = 1200
	chartHeightPx = 560
)

// CandleSource supplies the recent bar window for a symbol.
type CandleSource interface {
	History(ctx context.Context, symbol string) ([]marketdata.Candle, error)
}

// Generator builds exit report PNGs.
type Generator struct {
	source CandleSource
}

func NewGenerator(source CandleSource) *Generator {
	return &Generator{source: source}
}

// Render charts the closed position's recent candles with entry/exit levels.
func (g *Generator) Render(ctx context.Context, rec *ledger.PositionRecord) ([]byte, error) {
	if g == nil || g.source == nil {
		return nil, fmt.Errorf("report: no candle source")
	}
	if rec == nil {
		return nil, fmt.Errorf("report: nil record")
	}
	if err := ensureHeadlessAvailable(ctx); err != nil {
		return nil, err
	}
	candles, err := g.source.History(ctx, rec.Symbol)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("report: no candles for %s", rec.Symbol)
	}
	html, err := buildChartHTML(rec, candles)
	if err != nil {
		return nil, err
	}
	return renderHTMLToPNG(ctx, html, chartWidthPx, chartHeightPx)
}

func buildChartHTML(rec *ledger.PositionRecord, candles []marketdata.Candle) ([]byte, error) {
	minPrice, maxPrice := priceBounds(candles, rec.EntryPrice, rec.ExitPrice)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	pnl := rec.RealizedPnLPct * 100
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s exit", strings.ToUpper(rec.Symbol), rec.Side),
			Subtitle:      fmt.Sprintf("entry %.6f | exit %.6f | P&L %+.2f%% | %s", rec.EntryPrice, rec.ExitPrice, pnl, rec.CloseReason),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorText, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextDim},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorText}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextDim},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			Min:       round(minPrice-padding, 6),
			Max:       round(maxPrice+padding, 6),
			AxisLabel: &opts.AxisLabel{Color: colorTextDim},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextDim, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := make([]string, len(candles))
	klineData := make([]opts.KlineData, len(candles))
	for i, c := range candles {
		xAxis[i] = time.UnixMilli(c.CloseTime).UTC().Format("01-02 15:04")
		klineData[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", klineData)

	levels := charts.NewLine()
	levels.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	levels.SetXAxis(xAxis)
	levels.AddSeries("Entry", flatLine(rec.EntryPrice, len(candles)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEntry, Width: 2, Type: "dashed"}))
	if rec.ExitPrice > 0 {
		levels.AddSeries("Exit", flatLine(rec.ExitPrice, len(candles)),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorExit, Width: 2, Type: "dashed"}))
	}
	kline.Overlap(levels)

	var buf bytes.Buffer
	if err := kline.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func flatLine(value float64, length int) []opts.LineData {
	data := make([]opts.LineData, length)
	for i := range data {
		data[i] = opts.LineData{Value: round(value, 6)}
	}
	return data
}

func priceBounds(candles []marketdata.Candle, extra ...float64) (minVal, maxVal float64) {
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	for _, v := range extra {
		if v <= 0 {
			continue
		}
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func ensureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
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
