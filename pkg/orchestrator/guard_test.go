package orchestrator_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

func TestAdmissionRejectsUnknownService(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Destroy(context.Background(), uuid.New(), owner)
	expectKind(t, err, orchestrator.ErrServiceNotFound)
}

func TestAdmissionRejectsForeignUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	_, err := env.engine.Destroy(ctx, serviceID, other)
	expectKind(t, err, orchestrator.ErrAccessDenied)

	// Admin roles bypass the ownership check.
	if _, err := env.engine.Destroy(ctx, serviceID, admin); err != nil {
		t.Fatalf("admin destroy failed: %v", err)
	}
}

func TestAdmissionEnforcesSingleInFlightOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	if _, err := env.engine.Modify(ctx, serviceID, orchestrator.ModifyRequest{FlavorName: "5-node"}, owner); err != nil {
		t.Fatalf("modify failed: %v", err)
	}

	// The MODIFY order is still in flight, nothing else may start.
	_, err := env.engine.Destroy(ctx, serviceID, owner)
	expectKind(t, err, orchestrator.ErrInvalidState)
}

func TestAdmissionStateCompatibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Still DEPLOYING, no follow-up operation is admissible.
	order, err := env.engine.Deploy(ctx, testDeployRequest(), owner)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if _, err := env.engine.Modify(ctx, order.ServiceID, orchestrator.ModifyRequest{}, owner); !orchestrator.IsKind(err, orchestrator.ErrInvalidState) {
		t.Errorf("modify while deploying: got %v, want InvalidStateForOperation", err)
	}

	// A failed deploy permits destroy and purge but not modify.
	if err := env.engine.IngestCallback(ctx, order.ServiceID, orchestrator.ScenarioDeploy, orchestrator.CallbackPayload{Success: false}); err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if _, err := env.engine.Modify(ctx, order.ServiceID, orchestrator.ModifyRequest{}, owner); !orchestrator.IsKind(err, orchestrator.ErrInvalidState) {
		t.Errorf("modify after failed deploy: got %v, want InvalidStateForOperation", err)
	}
	if _, err := env.engine.Destroy(ctx, order.ServiceID, owner); err != nil {
		t.Errorf("destroy after failed deploy should be admissible: %v", err)
	}
}

func TestDestroyLockBlocksDestructiveOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	locks := orchestrator.LockConfig{DestroyLocked: true}
	if err := env.engine.SetLocks(ctx, serviceID, locks, owner); err != nil {
		t.Fatalf("set locks failed: %v", err)
	}

	_, err := env.engine.Destroy(ctx, serviceID, owner)
	expectKind(t, err, orchestrator.ErrServiceLocked)

	_, err = env.engine.Recreate(ctx, serviceID, owner)
	expectKind(t, err, orchestrator.ErrServiceLocked)

	_, err = env.engine.Migrate(ctx, serviceID, testDeployRequest(), owner)
	expectKind(t, err, orchestrator.ErrServiceLocked)

	// Modification is unaffected by the destroy lock.
	if _, err := env.engine.Modify(ctx, serviceID, orchestrator.ModifyRequest{FlavorName: "5-node"}, owner); err != nil {
		t.Fatalf("modify must pass with only the destroy lock set: %v", err)
	}
}

func TestModifyLockBlocksModifyingOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	locks := orchestrator.LockConfig{ModifyLocked: true}
	if err := env.engine.SetLocks(ctx, serviceID, locks, owner); err != nil {
		t.Fatalf("set locks failed: %v", err)
	}

	_, err := env.engine.Modify(ctx, serviceID, orchestrator.ModifyRequest{FlavorName: "5-node"}, owner)
	expectKind(t, err, orchestrator.ErrServiceLocked)

	_, err = env.engine.Configure(ctx, serviceID, map[string]string{"x": "1"}, owner)
	expectKind(t, err, orchestrator.ErrServiceLocked)

	_, err = env.engine.Port(ctx, serviceID, testDeployRequest(), owner)
	expectKind(t, err, orchestrator.ErrServiceLocked)

	// Destruction is unaffected by the modify lock.
	if _, err := env.engine.Destroy(ctx, serviceID, owner); err != nil {
		t.Fatalf("destroy must pass with only the modify lock set: %v", err)
	}
}

func TestAdminBypassesLocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	locks := orchestrator.LockConfig{DestroyLocked: true, ModifyLocked: true}
	if err := env.engine.SetLocks(ctx, serviceID, locks, owner); err != nil {
		t.Fatalf("set locks failed: %v", err)
	}

	if _, err := env.engine.Destroy(ctx, serviceID, admin); err != nil {
		t.Fatalf("admin destroy must bypass the lock: %v", err)
	}
}

func TestPowerOperationsRequireVMResources(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Deploy with a VM-free inventory.
	order, err := env.engine.Deploy(ctx, testDeployRequest(), owner)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	err = env.engine.IngestCallback(ctx, order.ServiceID, orchestrator.ScenarioDeploy, orchestrator.CallbackPayload{
		Success: true,
		Resources: []orchestrator.DeployResource{
			{ResourceID: "vpc-1", ResourceKind: orchestrator.ResourceKindVPC},
		},
	})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	_, err = env.engine.Start(ctx, order.ServiceID, owner)
	expectKind(t, err, orchestrator.ErrInvalidState)
}

func TestPowerOperationsRequireCompatibleRuntimeState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	// NOT_RUNNING: stop and restart make no sense.
	if _, err := env.engine.Stop(ctx, serviceID, owner); !orchestrator.IsKind(err, orchestrator.ErrInvalidState) {
		t.Errorf("stop on NOT_RUNNING: got %v, want InvalidStateForOperation", err)
	}
	if _, err := env.engine.Restart(ctx, serviceID, owner); !orchestrator.IsKind(err, orchestrator.ErrInvalidState) {
		t.Errorf("restart on NOT_RUNNING: got %v, want InvalidStateForOperation", err)
	}

	order, err := env.engine.Start(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	env.waitForOrderTerminal(t, order.ID)

	// RUNNING: a second start is rejected.
	if _, err := env.engine.Start(ctx, serviceID, owner); !orchestrator.IsKind(err, orchestrator.ErrInvalidState) {
		t.Errorf("start on RUNNING: got %v, want InvalidStateForOperation", err)
	}
}
