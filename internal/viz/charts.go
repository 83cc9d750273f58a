package viz

import (
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/motion.planner/internal/policy"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// AssetsHost is where rendered pages load the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// lossKeys is the series order of LossChart.
var lossKeys = []string{"total", "pos", "rot", "open", "stop"}

var heatmapRange = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// LossChart plots every loss term against the batch index.
func LossChart(title string, history []policy.Losses) *charts.Line {
	x := make([]string, len(history))
	for i := range history {
		x[i] = strconv.Itoa(i)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "500px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("batches=%d", len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Batch", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Loss", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x)
	for _, key := range lossKeys {
		data := make([]opts.LineData, len(history))
		for i, l := range history {
			data[i] = opts.LineData{Value: l.Map()[key]}
		}
		line.AddSeries(key, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}
	return line
}

// WeightsChart is the interactive counterpart of HeatmapPlot: a scatter of
// one sample's points with the step's weight mapped to colour.
func WeightsChart(pred *policy.Prediction, sample, step int) (*charts.Scatter, error) {
	h := pred.Head
	if h.Weights == nil {
		return nil, ErrNoHeatmap
	}
	if sample < 0 || sample >= h.Batch {
		return nil, fmt.Errorf("sample %d of %d: %w", sample, h.Batch, ErrNoSample)
	}
	if step < 0 || step >= h.Steps {
		return nil, fmt.Errorf("step %d of %d out of range", step, h.Steps)
	}

	start, end := h.Offsets.Span(sample)
	data := make([]opts.ScatterData, 0, end-start)
	maxW := 0.0
	for i := start; i < end; i++ {
		w := h.Weights.At(i, step)
		if w > maxW {
			maxW = w
		}
		data = append(data, opts.ScatterData{Value: []interface{}{h.Coords.At(i, 0), h.Coords.At(i, 1), w}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Position heatmap", Width: "900px", Height: "900px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Position heatmap", Subtitle: fmt.Sprintf("sample=%d step=%d points=%d", sample, step, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        0,
			Max:        float32(maxW),
			InRange:    &opts.VisualMapInRange{Color: heatmapRange},
		}),
	)
	scatter.AddSeries("weights", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter, nil
}

// RenderReport writes an HTML page with the loss history and, when the
// prediction carries heatmap weights, the first sample's step-0 heatmap.
func RenderReport(w io.Writer, title string, history []policy.Losses, pred *policy.Prediction) error {
	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.SetPageTitle(title)
	page.AddCharts(LossChart(title, history))
	if pred != nil && pred.Head != nil && pred.Head.Weights != nil && pred.Head.Batch > 0 {
		scatter, err := WeightsChart(pred, 0, 0)
		if err != nil {
			return err
		}
		page.AddCharts(scatter)
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
