package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if harvestFetchesTotal == nil || harvestItemsTotal == nil ||
		httpRequestsTotal == nil || harvestUpsertsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveItem(t *testing.T) {
	before := testutil.ToFloat64(harvestItemsTotalFor("classes", "failed"))
	ObserveItem("classes", "failed")
	ObserveItem("classes", "failed")
	if got := testutil.ToFloat64(harvestItemsTotalFor("classes", "failed")); got != before+2 {
		t.Errorf("Expected harvest_items_total to grow by 2, got %f -> %f", before, got)
	}
}

func TestObserveUpsertAndWarnings(t *testing.T) {
	ObserveUpsert("department", "updated")
	if val := testutil.ToFloat64(harvestUpsertsTotal.WithLabelValues("department", "updated")); val < 1 {
		t.Errorf("Expected department updates to be counted, got %f", val)
	}

	ObserveRowWarnings("enrollments", 0)
	ObserveRowWarnings("enrollments", 3)
	if val := testutil.ToFloat64(harvestRowWarningsTotal.WithLabelValues("enrollments")); val != 3 {
		t.Errorf("Expected 3 row warnings, got %f", val)
	}
}

func TestWorkersGauge(t *testing.T) {
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(harvestActiveWorkers); val != 1 {
		t.Errorf("Expected 1 active worker, got %f", val)
	}
	DecActiveWorkers()
}

func TestHistogramsObserve(t *testing.T) {
	ObserveFetch("ok", 120*time.Millisecond)
	ObservePhase("turns", 3*time.Second)
	ObserveRateLimitDelay(10 * time.Millisecond)
	ObserveClassCacheEviction()

	if val := testutil.CollectAndCount(harvestPhaseDurationSeconds); val <= 0 {
		t.Errorf("Expected phase durations to be observed, got %d", val)
	}
	if val := testutil.ToFloat64(harvestClassCacheEvictionsTotal); val < 1 {
		t.Errorf("Expected an eviction to be counted, got %f", val)
	}
}

func harvestItemsTotalFor(phase, outcome string) prometheus.Counter {
	Init()
	return harvestItemsTotal.WithLabelValues(phase, outcome)
}
