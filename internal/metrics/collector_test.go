package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fspropfaker/fspropfaker/internal/probe"
	fserrors "github.com/fspropfaker/fspropfaker/pkg/errors"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector.config.Namespace != "fspropfaker" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "fspropfaker")
		}
		if collector.Registry() == nil {
			t.Error("enabled collector has no registry")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.Registry() != nil {
			t.Error("disabled collector should not have registry")
		}

		// Must not panic on nil metric vectors.
		collector.RecordOperation("statfs", time.Millisecond, nil)
		collector.UpdateCapacity(probe.Snapshot{}, probe.Snapshot{})

		rec := httptest.NewRecorder()
		collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("disabled handler status = %d, want 404", rec.Code)
		}
	})
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordOperation("statfs", 2*time.Millisecond, nil)
	collector.RecordOperation("statfs", 4*time.Millisecond, nil)
	collector.RecordOperation("statfs", time.Millisecond,
		fserrors.NewError(fserrors.ErrCodeBlockSizeChanged, "block size changed"))

	if got := testutil.ToFloat64(collector.operationCounter.WithLabelValues("statfs", "success")); got != 2 {
		t.Errorf("success counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.errorCounter.WithLabelValues("statfs", "BLOCK_SIZE_CHANGED")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}

	ops := collector.GetMetrics()["operations"].(map[string]*OperationMetrics)
	statfs := ops["statfs"]
	if statfs == nil {
		t.Fatal("statfs operation not tracked")
	}
	if statfs.Count != 3 || statfs.Errors != 1 {
		t.Errorf("statfs count/errors = %d/%d, want 3/1", statfs.Count, statfs.Errors)
	}
	if statfs.AvgDuration != 7*time.Millisecond/3 {
		t.Errorf("avg duration = %v", statfs.AvgDuration)
	}
}

func TestRecordOperation_PlainErrorIsInternal(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordOperation("set_disk_fixed", time.Microsecond, errors.New("boom"))

	if got := testutil.ToFloat64(collector.errorCounter.WithLabelValues("set_disk_fixed", "INTERNAL_ERROR")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func TestUpdateCapacity(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.UpdateCapacity(
		probe.Snapshot{BlockSize: 4096, TotalBlocks: 1000, AvailBlocks: 500},
		probe.Snapshot{BlockSize: 4096, TotalBlocks: 100, AvailBlocks: 50, FreeBlocks: 60},
	)

	want := map[string]float64{
		KindRealTotal: 1000,
		KindRealAvail: 500,
		KindFakeTotal: 100,
		KindFakeAvail: 50,
		KindFakeFree:  60,
	}
	for kind, value := range want {
		if got := testutil.ToFloat64(collector.capacityGauge.WithLabelValues(kind)); got != value {
			t.Errorf("capacity %s = %v, want %v", kind, got, value)
		}
	}
	if got := testutil.ToFloat64(collector.blockSizeGauge); got != 4096 {
		t.Errorf("block size = %v, want 4096", got)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	collector.RecordOperation("statfs", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fspropfaker_operations_total") {
		t.Errorf("exposition does not contain the operation counter:\n%s", rec.Body.String())
	}
}

func TestDebugOperationsHandler(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	rec := httptest.NewRecorder()
	collector.DebugOperationsHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/operations", nil))
	if !strings.Contains(rec.Body.String(), "No operations recorded.") {
		t.Errorf("unexpected empty summary:\n%s", rec.Body.String())
	}

	collector.RecordOperation("set_free_delta", time.Millisecond, nil)
	rec = httptest.NewRecorder()
	collector.DebugOperationsHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/operations", nil))
	if !strings.Contains(rec.Body.String(), "set_free_delta") {
		t.Errorf("summary does not list the operation:\n%s", rec.Body.String())
	}
}

func TestResetMetrics(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	collector.RecordOperation("statfs", time.Millisecond, nil)
	collector.ResetMetrics()

	ops := collector.GetMetrics()["operations"].(map[string]*OperationMetrics)
	if len(ops) != 0 {
		t.Errorf("operations after reset = %d, want 0", len(ops))
	}
}
