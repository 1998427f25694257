package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/shoepad/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// defaultChartPoints is the number of most recent readings charted.
const defaultChartPoints = 200

// showSensorChart renders the X, Y and Z streams of one sensor as an HTML
// line chart. Query params:
//   - points (optional; default 200, max the buffer size)
func (s *Server) showSensorChart(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	buf, ok := s.sensorBuffer(w, key)
	if !ok {
		return
	}

	points, ok := httputil.QueryInt(w, r, "points", defaultChartPoints)
	if !ok {
		return
	}

	readings := buf.Snapshot()
	if len(readings) > points {
		readings = readings[len(readings)-points:]
	}

	x := make([]string, len(readings))
	xs := make([]opts.LineData, len(readings))
	ys := make([]opts.LineData, len(readings))
	zs := make([]opts.LineData, len(readings))
	var t0 int64
	if len(readings) > 0 {
		t0 = readings[0].Timestamp
	}
	for i, rd := range readings {
		x[i] = strconv.FormatInt(rd.Timestamp-t0, 10)
		xs[i] = opts.LineData{Value: rd.X}
		ys[i] = opts.LineData{Value: rd.Y}
		zs[i] = opts.LineData{Value: rd.Z}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sensor " + key, Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: key, Subtitle: fmt.Sprintf("readings=%d", len(readings))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "ms", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x).
		AddSeries("X", xs).
		AddSeries("Y", ys).
		AddSeries("Z", zs)

	var out bytes.Buffer
	if err := line.Render(&out); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(out.Bytes())
}
