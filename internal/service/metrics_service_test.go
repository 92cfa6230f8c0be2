package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/engine"
)

func TestMetricsServiceObservesGeneration(t *testing.T) {
	m := NewMetricsService()
	m.ObserveGeneration(&engine.Result{
		Outcome:    engine.OutcomeSuccess,
		Assignment: &engine.AssignmentResult{Status: engine.AssignmentOptimal, TotalSatisfaction: 12},
		Search:     engine.SearchStats{Nodes: 40, Backtracks: 3, SoftViolations: 2},
		Elapsed:    150 * time.Millisecond,
	})
	m.ObserveGeneration(&engine.Result{
		Outcome:    engine.OutcomeAssignmentInfeasible,
		Assignment: &engine.AssignmentResult{Status: engine.AssignmentInfeasible},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.assignmentStatus.WithLabelValues(string(engine.AssignmentOptimal))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.assignmentStatus.WithLabelValues(string(engine.AssignmentInfeasible))))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.satisfaction))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.softViolations))
}

func TestMetricsServiceCacheAndQueue(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))

	m.WatchQueue("timetable-generation", func() int { return 3 })
	m.JobStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `timetable_jobs_pending{queue="timetable-generation"} 3`)
	assert.Contains(t, body, "timetable_jobs_in_flight 1")
	assert.Contains(t, body, `timetable_cache_lookups_total{result="hit"} 1`)
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveGeneration(&engine.Result{Outcome: engine.OutcomeSuccess})
	m.RecordCacheOperation(true, time.Millisecond)
	m.JobStarted()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
