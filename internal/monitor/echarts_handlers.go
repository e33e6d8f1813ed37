package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/squidcore/acquisition/internal/acqmodel"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleDashboard renders a single page of go-echarts charts: per-region
// FOV completion bars and the global-mode timeline, grounded on
// internal/lidar/monitor/echarts_handlers.go's handleTrafficChart /
// handleLidarDebugDashboard pattern of one components.Page per request.
func (t *Tracker) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := t.Snapshot()

	page := components.NewPage()
	page.AddCharts(
		regionProgressBar(snap),
		modeTimelineChart(snap),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render dashboard: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func regionProgressBar(snap Snapshot) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Region FOV completion",
			Subtitle: fmt.Sprintf("experiment=%s in_progress=%v", snap.ExperimentID, snap.InProgress),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "FOVs"}),
	)

	x := make([]string, 0, len(snap.Regions))
	done := make([]opts.BarData, 0, len(snap.Regions))
	remaining := make([]opts.BarData, 0, len(snap.Regions))
	for _, r := range snap.Regions {
		x = append(x, r.RegionID)
		done = append(done, opts.BarData{Value: r.FOVsDone})
		remaining = append(remaining, opts.BarData{Value: r.FOVsTotal - r.FOVsDone})
	}

	bar.SetXAxis(x).
		AddSeries("done", done, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("remaining", remaining, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

// modeTimelineChart plots each observed GlobalMode transition as a point
// at (event index, mode rank), following the teacher's scatter-with-third-
// value convention (internal/lidar/monitor's handleTrafficChart/
// handleClustersChart) for carrying a label alongside numeric axes.
func modeTimelineChart(snap Snapshot) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Global mode timeline"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "event #"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mode rank"}),
	)

	x := make([]string, 0, len(snap.Timeline))
	y := make([]opts.ScatterData, 0, len(snap.Timeline))
	for i, ev := range snap.Timeline {
		x = append(x, fmt.Sprintf("%d", i))
		y = append(y, opts.ScatterData{Value: []interface{}{i, modeRank(ev.Mode), string(ev.Mode)}})
	}
	scatter.SetXAxis(x).AddSeries("mode", y, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	return scatter
}

func modeRank(mode acqmodel.GlobalMode) int {
	switch mode {
	case acqmodel.GlobalIdle:
		return 0
	case acqmodel.GlobalLive:
		return 1
	case acqmodel.GlobalAutofocusing:
		return 2
	case acqmodel.GlobalAcquiring:
		return 3
	case acqmodel.GlobalAborting:
		return 4
	default:
		return -1
	}
}
