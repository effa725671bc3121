// Copyright 2025 Sonic Labs
// This file is part of Aida Testing Infrastructure for Sonic
//
// Aida is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Aida is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Aida. If not, see <http://www.gnu.org/licenses/>.

package report

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/prometheus/client_golang/prometheus"
)

// HTML references for the rendered pages.
const (
	outcomesRef    = "flow-outcomes"
	durationsRef   = "flow-durations"
	invariantsRef  = "invariant-stats"
	transitionsRef = "flow-transitions"
	metricsRef     = "metrics"
)

const indexHtml = `
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>Lending Protocol Fuzzer</title>
  </head>
  <body>
    <h1>Lending Protocol Fuzzer</h1>
    <p>%s</p>
    <ul>
    <li> <h3> <a href="/` + outcomesRef + `"> Flow Outcomes </a> </h3> </li>
    <li> <h3> <a href="/` + durationsRef + `"> Flow Durations </a> </h3> </li>
    <li> <h3> <a href="/` + invariantsRef + `"> Invariant Checks </a> </h3> </li>
    <li> <h3> <a href="/` + transitionsRef + `"> Flow Transitions </a> </h3> </li>
    </ul>
  </body>
</html>
`

// WebView renders summaries in a browser. The summary is fetched on every request,
// which shows the progress of a running campaign.
type WebView struct {
	summary  func() Summary
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// NewWebView serves the summaries returned by summary. If gatherer is not nil its
// metrics are exported as well.
func NewWebView(summary func() Summary, gatherer prometheus.Gatherer) *WebView {
	v := &WebView{summary: summary, gatherer: gatherer, mux: http.NewServeMux()}
	v.mux.HandleFunc("/", v.renderIndex)
	v.mux.HandleFunc("/"+outcomesRef, v.renderOutcomes)
	v.mux.HandleFunc("/"+durationsRef, v.renderDurations)
	v.mux.HandleFunc("/"+invariantsRef, v.renderInvariants)
	v.mux.HandleFunc("/"+transitionsRef, v.renderTransitions)
	if gatherer != nil {
		v.mux.Handle("/"+metricsRef, MetricsHandler(gatherer))
	}
	return v
}

func (v *WebView) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.mux.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is cancelled.
func (v *WebView) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", addr)
	}
	return v.serve(ctx, ln)
}

func (v *WebView) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: v, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}

func (v *WebView) renderIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s := v.summary()
	status := numbers.Sprintf("%d flows executed in %d sequences.", s.Executed, s.Sequences)
	if s.Failure != "" {
		status += " FAILED: " + s.Failure
	}
	_, _ = fmt.Fprintf(w, indexHtml, status)
}

func newBar(title string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithInitializationOpts(opts.Initialization{
		Theme:     types.ThemeChalk,
		PageTitle: title,
	}),
		charts.WithToolboxOpts(opts.Toolbox{
			Show: true,
			Feature: &opts.ToolBoxFeature{
				SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
					Show:  true,
					Title: "Save",
				},
			},
		}),
		charts.WithLegendOpts(opts.Legend{Show: true}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
		}))
	return bar
}

// renderOutcomes stacks succeeded, reverted and failed executions per flow.
func (v *WebView) renderOutcomes(w http.ResponseWriter, _ *http.Request) {
	s := v.summary()
	labels := make([]string, len(s.Flows))
	ok := make([]opts.BarData, len(s.Flows))
	reverted := make([]opts.BarData, len(s.Flows))
	failed := make([]opts.BarData, len(s.Flows))
	for i, f := range s.Flows {
		labels[i] = f.Flow
		ok[i] = opts.BarData{Value: f.Succeeded}
		reverted[i] = opts.BarData{Value: f.Reverted}
		failed[i] = opts.BarData{Value: f.Failed}
	}
	stack := charts.WithBarChartOpts(opts.BarChart{Stack: "outcome"})
	bar := newBar("Flow Outcomes")
	bar.SetXAxis(labels).
		AddSeries("ok", ok, stack).
		AddSeries("reverted", reverted, stack).
		AddSeries("failed", failed, stack)
	_ = bar.Render(w)
}

func (v *WebView) renderDurations(w http.ResponseWriter, _ *http.Request) {
	s := v.summary()
	labels := make([]string, len(s.Flows))
	mean := make([]opts.BarData, len(s.Flows))
	p95 := make([]opts.BarData, len(s.Flows))
	for i, f := range s.Flows {
		labels[i] = f.Flow
		mean[i] = opts.BarData{Value: float64(f.Duration.Mean.Microseconds())}
		p95[i] = opts.BarData{Value: float64(f.Duration.P95.Microseconds())}
	}
	bar := newBar("Flow Durations [us]")
	bar.SetXAxis(labels).AddSeries("mean", mean).AddSeries("p95", p95)
	bar.XYReversal()
	_ = bar.Render(w)
}

func (v *WebView) renderInvariants(w http.ResponseWriter, _ *http.Request) {
	s := v.summary()
	labels := make([]string, len(s.Invariants))
	checks := make([]opts.BarData, len(s.Invariants))
	failures := make([]opts.BarData, len(s.Invariants))
	for i, inv := range s.Invariants {
		labels[i] = inv.Invariant
		checks[i] = opts.BarData{Value: inv.Checks}
		failures[i] = opts.BarData{Value: inv.Failures}
	}
	bar := newBar("Invariant Checks")
	bar.SetXAxis(labels).AddSeries("checks", checks).AddSeries("failures", failures)
	_ = bar.Render(w)
}

func (v *WebView) renderTransitions(w http.ResponseWriter, _ *http.Request) {
	s := v.summary()
	txt, err := printTransitionsInDotty("Flow Transitions", s.Transitions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = fmt.Fprint(w, txt)
}

// printTransitionsInDotty renders a transition matrix as a graphviz page.
func printTransitionsInDotty(title string, m Matrix) (out string, err error) {
	n := len(m.Labels)
	if n != len(m.P) {
		return "", errors.Newf("transition matrix has %d rows, expected %d", len(m.P), n)
	}
	for i, row := range m.P {
		if len(row) != n {
			return "", errors.Newf("transition matrix row %d has length %d, expected %d", i, len(row), n)
		}
	}
	g := graphviz.New()
	graph, err := g.Graph()
	if err != nil {
		return "", errors.Wrap(err, "failed to create graph")
	}
	defer func() {
		err = errors.Join(err, graph.Close(), g.Close())
	}()
	nodes := make([]*cgraph.Node, n)
	for i, label := range m.Labels {
		nodes[i], err = graph.CreateNode(label)
		if err != nil {
			return "", errors.Wrapf(err, "failed to create node %s", label)
		}
		nodes[i].SetLabel(label)
	}
	for i := range n {
		for j := range n {
			p := m.P[i][j]
			if p <= 0 {
				continue
			}
			e, err := graph.CreateEdge("", nodes[i], nodes[j])
			if err != nil {
				return "", errors.Wrapf(err, "failed to create edge %s -> %s", m.Labels[i], m.Labels[j])
			}
			e.SetLabel(fmt.Sprintf("%.2f", p))
			e.SetColor(edgeColor(p))
		}
	}
	return renderDotGraph(title, g, graph)
}

func edgeColor(p float64) string {
	switch {
	case p >= 0.75:
		return "red"
	case p >= 0.5:
		return "indianred"
	case p >= 0.25:
		return "green"
	default:
		return "gray"
	}
}

const dotPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>%[1]s</title>
    <script>
        const dot = ` + "`%[2]s`" + `;
    </script>
</head>
<body>
    <h1>%[1]s</h1>
    <div id="graph"></div>
    <script type="module">
        import { Graphviz } from "https://cdn.jsdelivr.net/npm/@hpcc-js/wasm/dist/index.js";
        if (Graphviz) {
            const graphviz = await Graphviz.load();
            document.getElementById("graph").innerHTML = graphviz.layout(dot, "svg", "dot");
        }
    </script>
</body>
</html>
`

// renderDotGraph lays out graph and embeds its dot source in an HTML page rendering it
// in the browser.
func renderDotGraph(title string, g *graphviz.Graphviz, graph *cgraph.Graph) (string, error) {
	var buf bytes.Buffer
	if err := g.Render(graph, graphviz.XDOT, &buf); err != nil {
		return "", errors.Wrap(err, "failed to render dot")
	}
	return fmt.Sprintf(dotPage, title, buf.String()), nil
}
