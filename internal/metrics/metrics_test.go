package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func resetCollectors() {
	var collectors []prometheus.Collector
	if httpRequestsTotal != nil {
		collectors = append(collectors, httpRequestsTotal)
	}
	if httpRequestDurationSeconds != nil {
		collectors = append(collectors, httpRequestDurationSeconds)
	}
	if sinkUploadsTotal != nil {
		collectors = append(collectors, sinkUploadsTotal)
	}
	if sinkDedupeSkipsTotal != nil {
		collectors = append(collectors, sinkDedupeSkipsTotal)
	}
	if sinkBytesSavedTotal != nil {
		collectors = append(collectors, sinkBytesSavedTotal)
	}
	if sinkWatchdogFinalizeTotal != nil {
		collectors = append(collectors, sinkWatchdogFinalizeTotal)
	}
	if sinkLockWaitSeconds != nil {
		collectors = append(collectors, sinkLockWaitSeconds)
	}
	if sinkReconcileActionsTotal != nil {
		collectors = append(collectors, sinkReconcileActionsTotal)
	}
	for _, c := range collectors {
		prometheus.Unregister(c)
	}

	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil
	sinkUploadsTotal = nil
	sinkDedupeSkipsTotal = nil
	sinkBytesSavedTotal = nil
	sinkWatchdogFinalizeTotal = nil
	sinkLockWaitSeconds = nil
	sinkReconcileActionsTotal = nil
	once = sync.Once{}
}

func TestInitIsIdempotent(t *testing.T) {
	resetCollectors()

	Init()
	Init()

	if httpRequestsTotal == nil || sinkUploadsTotal == nil || sinkLockWaitSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveUploadNewCountsBytesNotDedupe(t *testing.T) {
	resetCollectors()
	Init()

	ObserveUpload("example.com", "new", 1024)

	if val := testutil.ToFloat64(sinkUploadsTotal.WithLabelValues("example.com", "new")); val != 1 {
		t.Errorf("sinkUploadsTotal = %f, want 1", val)
	}
	if val := testutil.ToFloat64(sinkBytesSavedTotal.WithLabelValues("example.com")); val != 1024 {
		t.Errorf("sinkBytesSavedTotal = %f, want 1024", val)
	}
	if val := testutil.ToFloat64(sinkDedupeSkipsTotal.WithLabelValues("example.com")); val != 0 {
		t.Errorf("sinkDedupeSkipsTotal = %f, want 0", val)
	}
}

func TestObserveUploadDuplicateCountsDedupeNotBytes(t *testing.T) {
	resetCollectors()
	Init()

	ObserveUpload("example.com", "duplicate", 1024)

	if val := testutil.ToFloat64(sinkDedupeSkipsTotal.WithLabelValues("example.com")); val != 1 {
		t.Errorf("sinkDedupeSkipsTotal = %f, want 1", val)
	}
	if val := testutil.ToFloat64(sinkBytesSavedTotal.WithLabelValues("example.com")); val != 0 {
		t.Errorf("sinkBytesSavedTotal = %f, want 0 (duplicate writes no new bytes)", val)
	}
}

func TestObserveWatchdogFinalizeLabelsByTrigger(t *testing.T) {
	resetCollectors()
	Init()

	ObserveWatchdogFinalize("example.com", "idle")

	if val := testutil.ToFloat64(sinkWatchdogFinalizeTotal.WithLabelValues("example.com", "idle")); val != 1 {
		t.Errorf("sinkWatchdogFinalizeTotal = %f, want 1", val)
	}
}

func TestObserveLockWaitRecordsHistogram(t *testing.T) {
	resetCollectors()
	Init()

	ObserveLockWait(50 * time.Millisecond)

	if count := testutil.CollectAndCount(sinkLockWaitSeconds); count != 1 {
		t.Errorf("expected one observation, got %d", count)
	}
}

func TestObserveReconcileActionLabelsByDomainAndAction(t *testing.T) {
	resetCollectors()
	Init()

	ObserveReconcileAction("example.com", "move")

	if val := testutil.ToFloat64(sinkReconcileActionsTotal.WithLabelValues("example.com", "move")); val != 1 {
		t.Errorf("sinkReconcileActionsTotal = %f, want 1", val)
	}
}
