package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBasicMetricsCountsLifecycle(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetrics{}
	inst := &Instance{ID: "i-1"}

	m.OnInstanceStarted(ctx, inst)
	m.OnStepCompleted(ctx, inst, "intake", OutcomeAdvance, nil, 10*time.Millisecond)
	m.OnStepCompleted(ctx, inst, "review", OutcomeInterrupt, nil, 30*time.Millisecond)
	m.OnInterrupted(ctx, inst, "awaiting-input")
	m.OnStepCompleted(ctx, inst, "publish", OutcomeFail, errors.New("boom"), time.Millisecond)
	m.OnInstanceFailed(ctx, inst, errors.New("boom"))
	m.OnAuditDropped(ctx, inst, AuditEvent{}, errors.New("disk full"))

	snap := m.Snapshot()
	if snap.InstancesStarted != 1 {
		t.Errorf("started: %d", snap.InstancesStarted)
	}
	if snap.InstancesFailed != 1 {
		t.Errorf("failed: %d", snap.InstancesFailed)
	}
	if snap.Interrupts != 1 {
		t.Errorf("interrupts: %d", snap.Interrupts)
	}
	if snap.AuditDropped != 1 {
		t.Errorf("audit dropped: %d", snap.AuditDropped)
	}
	// The failing step does not count toward duration.
	if snap.StepsCompleted != 2 {
		t.Errorf("steps completed: %d", snap.StepsCompleted)
	}
	if snap.AvgStepDuration != 20*time.Millisecond {
		t.Errorf("avg duration: %v", snap.AvgStepDuration)
	}
}

func TestCompositeObserverFansOut(t *testing.T) {
	ctx := context.Background()
	a := &BasicMetrics{}
	b := &BasicMetrics{}
	obs := NewCompositeObserver(a, b)

	obs.OnInstanceStarted(ctx, &Instance{ID: "i-1"})
	obs.OnInstanceCompleted(ctx, &Instance{ID: "i-1"})

	for name, m := range map[string]*BasicMetrics{"a": a, "b": b} {
		snap := m.Snapshot()
		if snap.InstancesStarted != 1 || snap.InstancesCompleted != 1 {
			t.Errorf("%s: started=%d completed=%d", name, snap.InstancesStarted, snap.InstancesCompleted)
		}
	}
}
