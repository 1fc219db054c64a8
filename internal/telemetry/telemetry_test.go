package telemetry

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajasaid/InsightOS/internal/index"
	"github.com/rajasaid/InsightOS/internal/retrieve"
)

func TestMetrics_Jobs(t *testing.T) {
	m := NewMetrics(nil)

	m.JobFinished("done", 120*time.Millisecond)
	m.JobFinished("done", 80*time.Millisecond)
	m.JobFinished("failed", time.Second)
	m.JobFinished("unchanged", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("unchanged")))

	// unchanged jobs did not run and are not timed
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
	body := scrape(t, m)
	assert.Contains(t, body, "insightos_job_duration_seconds_count 3")
}

func TestMetrics_ScanFinished(t *testing.T) {
	m := NewMetrics(nil)

	m.ScanFinished(&index.ScanResult{Indexed: 9, Failed: 1, Skipped: 4}, 120)
	assert.Equal(t, 9.0, testutil.ToFloat64(m.scanFiles.WithLabelValues("indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scanFiles.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.scanFiles.WithLabelValues("skipped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.scanFiles.WithLabelValues("cancelled")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.chunks))

	// The next scan replaces the gauges
	m.ScanFinished(&index.ScanResult{Skipped: 14}, 120)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.scanFiles.WithLabelValues("indexed")))
	assert.Equal(t, 14.0, testutil.ToFloat64(m.scanFiles.WithLabelValues("skipped")))

	m.ScanFinished(nil, 0)
	assert.Equal(t, 120.0, testutil.ToFloat64(m.chunks))
}

func TestMetrics_Retrievals(t *testing.T) {
	q := NewQueryLog(QueryLogConfig{})
	m := NewMetrics(q)

	m.RetrievalFinished(retrieve.Event{Query: "alpha beta", Outcome: retrieve.OutcomeOK, Spans: 3, Duration: 5 * time.Millisecond})
	m.RetrievalFinished(retrieve.Event{Query: "nothing here", Outcome: retrieve.OutcomeEmpty, Duration: 20 * time.Millisecond})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.retrievals.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retrievals.WithLabelValues("empty")))
	assert.Equal(t, int64(2), m.Queries().Snapshot().Total)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.JobFinished("done", time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `insightos_jobs_total{outcome="done"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_Serve(t *testing.T) {
	m := NewMetrics(nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestRing(t *testing.T) {
	r := NewRing[string](3)
	assert.NotNil(t, r.Items())
	assert.Empty(t, r.Items())

	r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.Items())

	r.Add("c")
	r.Add("d")
	r.Add("e")
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"c", "d", "e"}, r.Items())
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"what", "the", "quarterly", "report"}, ExtractTerms("What's the Quarterly-Report?"))
	assert.Nil(t, ExtractTerms("a b c"))
	assert.Nil(t, ExtractTerms(""))
}

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketUnder10ms, LatencyToBucket(time.Millisecond))
	assert.Equal(t, BucketUnder50ms, LatencyToBucket(10*time.Millisecond))
	assert.Equal(t, BucketUnder100ms, LatencyToBucket(99*time.Millisecond))
	assert.Equal(t, BucketUnder500ms, LatencyToBucket(100*time.Millisecond))
	assert.Equal(t, BucketSlow, LatencyToBucket(2*time.Second))
}

func TestQueryLog_Snapshot(t *testing.T) {
	// Given: a mix of retrieval outcomes
	l := NewQueryLog(QueryLogConfig{EmptyCapacity: 2})
	events := []retrieve.Event{
		{Query: "budget report", Outcome: retrieve.OutcomeOK, Duration: time.Millisecond},
		{Query: "Budget  Report", Outcome: retrieve.OutcomeOK, Duration: time.Millisecond},
		{Query: "lost keys", Outcome: retrieve.OutcomeEmpty, Duration: 60 * time.Millisecond},
		{Query: "old notes", Outcome: retrieve.OutcomeEmpty, Duration: 60 * time.Millisecond},
		{Query: "missing memo", Outcome: retrieve.OutcomeEmpty, Duration: 60 * time.Millisecond},
		{Query: "", Outcome: retrieve.OutcomeError},
	}

	// When: they are recorded
	for _, ev := range events {
		l.Record(ev)
	}
	s := l.Snapshot()

	// Then: aggregates reflect them
	assert.Equal(t, int64(6), s.Total)
	assert.Equal(t, int64(3), s.Empty)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(1), s.Repeats)
	assert.InDelta(t, 0.5, s.EmptyRate(), 1e-9)
	assert.Equal(t, []string{"old notes", "missing memo"}, s.RecentEmpty)
	assert.Equal(t, int64(3), s.Latency[BucketUnder10ms])
	assert.Equal(t, int64(3), s.Latency[BucketUnder100ms])

	require.GreaterOrEqual(t, len(s.TopTerms), 2)
	assert.Equal(t, TermCount{Term: "budget", Count: 2}, s.TopTerms[0])
	assert.Equal(t, TermCount{Term: "report", Count: 2}, s.TopTerms[1])
}

func TestQueryLog_Concurrent(t *testing.T) {
	l := NewQueryLog(QueryLogConfig{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Record(retrieve.Event{Query: strings.Repeat("x", j%5+3), Outcome: retrieve.OutcomeOK})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(400), l.Snapshot().Total)
}
