package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fspropfaker/fspropfaker/pkg/errors"
)

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	tracker.RegisterComponent(ComponentProbe)

	if state := tracker.GetState(ComponentProbe); state != StateHealthy {
		t.Errorf("Expected initial state to be StateHealthy, got %s", state)
	}
	if state := tracker.GetState("unknown"); state != StateUnavailable {
		t.Errorf("Expected unregistered component to be unavailable, got %s", state)
	}
}

func TestTracker_RecordSuccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentProbe)

	tracker.RecordError(ComponentProbe, fmt.Errorf("test error"))
	tracker.RecordError(ComponentProbe, fmt.Errorf("test error"))

	tracker.RecordSuccess(ComponentProbe)
	tracker.RecordSuccess(ComponentProbe)

	health, err := tracker.GetComponentHealth(ComponentProbe)
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}
	if health.ConsecutiveErrors != 0 {
		t.Errorf("Expected ConsecutiveErrors=0 after successes, got %d", health.ConsecutiveErrors)
	}
}

func TestTracker_RecordError_Degradation(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 3
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentProbe)

	for i := 0; i < 2; i++ {
		tracker.RecordError(ComponentProbe, fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState(ComponentProbe); state != StateHealthy {
		t.Errorf("Expected StateHealthy before threshold, got %s", state)
	}

	tracker.RecordError(ComponentProbe, fmt.Errorf("error 3"))
	if state := tracker.GetState(ComponentProbe); state != StateDegraded {
		t.Errorf("Expected StateDegraded at threshold, got %s", state)
	}
}

func TestTracker_RecordError_Unavailable(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 2
	config.UnavailableThreshold = 4
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentProbe)

	for i := 0; i < 4; i++ {
		tracker.RecordError(ComponentProbe, fmt.Errorf("error %d", i))
	}

	if state := tracker.GetState(ComponentProbe); state != StateUnavailable {
		t.Errorf("Expected StateUnavailable, got %s", state)
	}
	if tracker.IsServing(ComponentProbe) {
		t.Error("Unavailable component should not be serving")
	}
}

func TestTracker_RecordError_InvariantIsFatal(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentProbe)

	tracker.RecordError(ComponentProbe, errors.NewError(errors.ErrCodeBlockSizeChanged, "block size changed"))

	if state := tracker.GetState(ComponentProbe); state != StateUnavailable {
		t.Errorf("Expected a block size change to be fatal, got %s", state)
	}
}

func TestTracker_SetState(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentMount)

	tracker.SetState(ComponentMount, StateUnavailable, fmt.Errorf("mount point disappeared"))

	health, err := tracker.GetComponentHealth(ComponentMount)
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}
	if health.State != StateUnavailable {
		t.Errorf("Expected StateUnavailable, got %s", health.State)
	}
	if health.LastErrorMessage != "mount point disappeared" {
		t.Errorf("Unexpected last error %q", health.LastErrorMessage)
	}

	tracker.SetState(ComponentMount, StateHealthy, nil)
	if !tracker.IsHealthy(ComponentMount) {
		t.Error("Expected mount to be healthy again")
	}
}

func TestTracker_GetOverallHealth(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 1
	tracker := NewTracker(config)

	if state := tracker.GetOverallHealth(); state != StateHealthy {
		t.Errorf("Expected empty tracker to be healthy, got %s", state)
	}

	tracker.RegisterComponent(ComponentProbe)
	tracker.RegisterComponent(ComponentMount)
	tracker.RecordError(ComponentProbe, fmt.Errorf("statfs failed"))

	if state := tracker.GetOverallHealth(); state != StateDegraded {
		t.Errorf("Expected overall StateDegraded, got %s", state)
	}
}

func TestTracker_StateChangeCallback(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 3
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentProbe)

	type change struct {
		component string
		oldState  HealthState
		newState  HealthState
	}
	changes := make(chan change, 1)
	tracker.AddStateChangeCallback(StateDegraded, func(component string, oldState, newState HealthState, err error) {
		changes <- change{component, oldState, newState}
	})

	for i := 0; i < 3; i++ {
		tracker.RecordError(ComponentProbe, fmt.Errorf("error %d", i))
	}

	select {
	case c := <-changes:
		if c.component != ComponentProbe || c.oldState != StateHealthy || c.newState != StateDegraded {
			t.Errorf("Unexpected state change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("State change callback was not called")
	}
}

type testHealthListener struct {
	mu     sync.Mutex
	checks []bool
}

func (l *testHealthListener) OnStateChange(component string, oldState, newState HealthState, err error) {}

func (l *testHealthListener) OnHealthCheck(component string, healthy bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks = append(l.checks, healthy)
}

func TestTracker_HealthListener(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentProbe)

	listener := &testHealthListener{}
	tracker.AddHealthListener(listener)

	tracker.RecordError(ComponentProbe, fmt.Errorf("test error"))
	tracker.RecordSuccess(ComponentProbe)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.checks) != 2 || listener.checks[0] || !listener.checks[1] {
		t.Errorf("Unexpected health check notifications %v", listener.checks)
	}
}

func TestTracker_MetadataIsCopied(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentMount)
	tracker.SetComponentMetadata(ComponentMount, "mount_point", "/mnt/fake")

	all := tracker.GetAllComponents()
	all[ComponentMount].Metadata["mount_point"] = "changed"

	health, err := tracker.GetComponentHealth(ComponentMount)
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}
	if health.Metadata["mount_point"] != "/mnt/fake" {
		t.Errorf("Metadata was modified through a copy: %v", health.Metadata)
	}
}

func TestTracker_GetComponentHealth_NotRegistered(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	if _, err := tracker.GetComponentHealth("missing"); err == nil {
		t.Error("Expected error for unregistered component")
	}
}

func TestTracker_StartHealthChecks(t *testing.T) {
	config := DefaultConfig()
	config.HealthCheckInterval = 20 * time.Millisecond
	config.ErrorThreshold = 2
	tracker := NewTracker(config)
	tracker.RegisterComponent(ComponentProbe)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var checks int32
	done := make(chan struct{})
	go func() {
		tracker.StartHealthChecks(ctx, func(component string) error {
			atomic.AddInt32(&checks, 1)
			return fmt.Errorf("health check failed")
		})
		close(done)
	}()
	<-done

	if n := atomic.LoadInt32(&checks); n < 2 {
		t.Errorf("Expected at least 2 health checks, got %d", n)
	}
	if tracker.IsHealthy(ComponentProbe) {
		t.Error("Expected non-healthy state after failed health checks")
	}
}

func TestHealthState_String(t *testing.T) {
	tests := map[HealthState]string{
		StateHealthy:     "healthy",
		StateDegraded:    "degraded",
		StateUnavailable: "unavailable",
		HealthState(42):  "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("HealthState(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func BenchmarkTracker_RecordSuccess(b *testing.B) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentProbe)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.RecordSuccess(ComponentProbe)
	}
}
