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
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestWebView_RendersPages(t *testing.T) {
	view := NewWebView(sampleStatistics().Summary, nil)
	tests := map[string]struct {
		path string
		want []string
	}{
		"index":       {"/", []string{"5 flows executed in 2 sequences.", outcomesRef, transitionsRef}},
		"outcomes":    {"/" + outcomesRef, []string{"Flow Outcomes", "borrow", "reverted"}},
		"durations":   {"/" + durationsRef, []string{"Flow Durations", "p95"}},
		"invariants":  {"/" + invariantsRef, []string{"Invariant Checks", "repayable"}},
		"transitions": {"/" + transitionsRef, []string{"<title>Flow Transitions</title>", "digraph", "setPool", "1.00"}},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			rec := get(t, view, test.path)
			require.Equal(t, http.StatusOK, rec.Code)
			for _, want := range test.want {
				assert.Contains(t, rec.Body.String(), want)
			}
		})
	}
}

func TestWebView_IndexShowsFailure(t *testing.T) {
	stats := sampleStatistics()
	stats.RunFinished(assert.AnError)
	rec := get(t, NewWebView(stats.Summary, nil), "/")
	assert.Contains(t, rec.Body.String(), "FAILED: "+assert.AnError.Error())
}

func TestWebView_UnknownPath(t *testing.T) {
	view := NewWebView(NewStatistics().Summary, nil)
	assert.Equal(t, http.StatusNotFound, get(t, view, "/unknown").Code)
	assert.Equal(t, http.StatusNotFound, get(t, view, "/"+metricsRef).Code)
}

func TestWebView_ExportsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	m.SequenceStarted(0)
	rec := get(t, NewWebView(NewStatistics().Summary, reg), "/"+metricsRef)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lendfuzz_engine_sequences_total 1")
}

func TestWebView_ServeStopsOnCancellation(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewWebView(NewStatistics().Summary, nil).serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestPrintTransitionsInDotty_RejectsMalformedMatrix(t *testing.T) {
	tests := map[string]Matrix{
		"rows":    {Labels: []string{"a", "b"}, P: [][]float64{{0, 1}}},
		"columns": {Labels: []string{"a"}, P: [][]float64{{0, 1}}},
	}
	for name, m := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := printTransitionsInDotty("x", m)
			assert.Error(t, err)
		})
	}
}

func TestEdgeColor(t *testing.T) {
	assert.Equal(t, "gray", edgeColor(0.1))
	assert.Equal(t, "green", edgeColor(0.25))
	assert.Equal(t, "indianred", edgeColor(0.5))
	assert.Equal(t, "red", edgeColor(1))
}
