package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

// waitForServiceState polls until the runtime state settles on want.
func (env *testEnv) waitForServiceState(t *testing.T, serviceID uuid.UUID, want orchestrator.ServiceState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last orchestrator.ServiceState
	for time.Now().Before(deadline) {
		last = env.getService(t, serviceID).ServiceState
		if last == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service state = %s, want %s", last, want)
}

func TestStartStopRestartCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	order, err := env.engine.Start(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := env.waitForOrderTerminal(t, order.ID).Status; got != orchestrator.OrderStatusSuccessful {
		t.Fatalf("start order status = %s, want SUCCESSFUL", got)
	}
	env.waitForServiceState(t, serviceID, orchestrator.ServiceStateRunning)

	order, err = env.engine.Stop(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	env.waitForOrderTerminal(t, order.ID)
	env.waitForServiceState(t, serviceID, orchestrator.ServiceStateStopped)

	order, err = env.engine.Start(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("start from STOPPED failed: %v", err)
	}
	env.waitForOrderTerminal(t, order.ID)
	env.waitForServiceState(t, serviceID, orchestrator.ServiceStateRunning)

	order, err = env.engine.Restart(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	env.waitForOrderTerminal(t, order.ID)
	env.waitForServiceState(t, serviceID, orchestrator.ServiceStateRunning)

	if got := env.power.actions(); len(got) != 4 {
		t.Errorf("power actions = %v, want start, stop, start, restart", got)
	}
}

func TestPowerActionSetsTransitionalState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	order, err := env.engine.Start(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// The admitting request sets STARTING before the worker runs. The
	// worker may already have finished, in which case RUNNING is fine.
	state := env.getService(t, serviceID).ServiceState
	if state != orchestrator.ServiceStateStarting && state != orchestrator.ServiceStateRunning {
		t.Errorf("service state = %s, want STARTING or RUNNING", state)
	}
	env.waitForOrderTerminal(t, order.ID)
}

func TestFailedStopFallsBackToPreviousState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	order, err := env.engine.Start(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	env.waitForOrderTerminal(t, order.ID)
	env.waitForServiceState(t, serviceID, orchestrator.ServiceStateRunning)

	env.power.failWith(errors.New("job timed out"))
	order, err = env.engine.Stop(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("stop admission failed: %v", err)
	}

	got := env.waitForOrderTerminal(t, order.ID)
	if got.Status != orchestrator.OrderStatusFailed {
		t.Errorf("stop order status = %s, want FAILED", got.Status)
	}
	if got.ResultMessage == "" {
		t.Error("failed order must carry the cause")
	}
	env.waitForServiceState(t, serviceID, orchestrator.ServiceStateRunning)
}

func TestFailedRestartLeavesServiceRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	order, err := env.engine.Start(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	env.waitForOrderTerminal(t, order.ID)
	env.waitForServiceState(t, serviceID, orchestrator.ServiceStateRunning)

	env.power.failWith(errors.New("reboot rejected"))
	order, err = env.engine.Restart(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("restart admission failed: %v", err)
	}

	if got := env.waitForOrderTerminal(t, order.ID).Status; got != orchestrator.OrderStatusFailed {
		t.Errorf("restart order status = %s, want FAILED", got)
	}
	env.waitForServiceState(t, serviceID, orchestrator.ServiceStateRunning)
}

func TestPowerActionWithoutPlugin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	engine := orchestrator.NewEngine(orchestrator.EngineConfig{
		Store:    env.store,
		Registry: &fakeRegistry{executor: env.executor},
		Workers:  1,
	})
	t.Cleanup(engine.Shutdown)

	order, err := engine.Start(ctx, serviceID, owner)
	expectKind(t, err, orchestrator.ErrPluginNotFound)
	if order != nil {
		t.Fatal("expected no order when the plugin is missing")
	}

	// The admitted order must not stay in flight.
	if _, err := env.store.GetInFlightOrder(ctx, serviceID); !orchestrator.IsKind(err, orchestrator.ErrOrderNotFound) {
		t.Errorf("expected no in-flight order, got: %v", err)
	}
}
