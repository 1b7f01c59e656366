package orchestrator_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

func (env *testEnv) getWorkflow(t *testing.T, id uuid.UUID) *orchestrator.Workflow {
	t.Helper()
	wf, err := env.store.GetWorkflow(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load workflow %s: %v", id, err)
	}
	return wf
}

func TestMigrateWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	originalID := env.deployService(t)

	req := testDeployRequest()
	req.Region = "eu-west-101"
	wf, err := env.engine.Migrate(ctx, originalID, req, owner)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	if wf.Status != orchestrator.WorkflowStatusInProgress {
		t.Errorf("workflow status = %s, want IN_PROGRESS", wf.Status)
	}
	if wf.OriginalServiceID != originalID {
		t.Error("workflow does not reference the original service")
	}
	if wf.NewServiceID == uuid.Nil || wf.NewServiceID == originalID {
		t.Error("workflow must reference a fresh replacement service")
	}

	// Step one: the replacement deploys in the target region.
	task := env.executor.lastTask(t)
	if task.Scenario != orchestrator.ScenarioDeploy || task.Region != "eu-west-101" {
		t.Errorf("first step = %s in %s, want deploy in eu-west-101", task.Scenario, task.Region)
	}

	// The original deploy order is retroactively part of the workflow.
	originals, err := env.store.ListOrdersByService(ctx, originalID)
	if err != nil {
		t.Fatalf("order list failed: %v", err)
	}
	var tagged bool
	for _, o := range originals {
		if o.Type == orchestrator.OrderTypeDeploy && o.WorkflowID != nil && *o.WorkflowID == wf.ID {
			tagged = true
		}
	}
	if !tagged {
		t.Error("original deploy order was not tagged with the workflow id")
	}

	// Replacement deployed: the workflow tears the original down.
	err = env.engine.IngestCallback(ctx, wf.NewServiceID, orchestrator.ScenarioDeploy, orchestrator.CallbackPayload{
		Success:   true,
		Resources: testResources(),
	})
	if err != nil {
		t.Fatalf("deploy callback failed: %v", err)
	}

	task = env.executor.lastTask(t)
	if task.Scenario != orchestrator.ScenarioDestroy || task.ServiceID != originalID {
		t.Errorf("second step = %s on %s, want destroy on the original", task.Scenario, task.ServiceID)
	}
	if env.getService(t, originalID).DeploymentState != orchestrator.DeploymentStateDestroying {
		t.Error("original must be DESTROYING during the teardown step")
	}

	// Teardown done: the workflow completes.
	err = env.engine.IngestCallback(ctx, originalID, orchestrator.ScenarioDestroy, orchestrator.CallbackPayload{Success: true})
	if err != nil {
		t.Fatalf("destroy callback failed: %v", err)
	}

	if got := env.getWorkflow(t, wf.ID).Status; got != orchestrator.WorkflowStatusSuccessful {
		t.Errorf("workflow status = %s, want SUCCESSFUL", got)
	}
	if env.getService(t, originalID).DeploymentState != orchestrator.DeploymentStateDestroySuccess {
		t.Error("original must end in DESTROY_SUCCESS")
	}
	if env.getService(t, wf.NewServiceID).DeploymentState != orchestrator.DeploymentStateDeploySuccess {
		t.Error("replacement must end in DEPLOY_SUCCESS")
	}

	// Both member orders carry the workflow id.
	members, err := env.store.ListOrdersByWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("workflow order list failed: %v", err)
	}
	if len(members) != 3 {
		t.Errorf("workflow member orders = %d, want 3 (original deploy, new deploy, destroy)", len(members))
	}
}

func TestMigrateHaltsOnDeployFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	originalID := env.deployService(t)

	wf, err := env.engine.Migrate(ctx, originalID, testDeployRequest(), owner)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	before := env.executor.taskCount()
	err = env.engine.IngestCallback(ctx, wf.NewServiceID, orchestrator.ScenarioDeploy, orchestrator.CallbackPayload{
		Success:      false,
		ErrorMessage: "capacity exhausted",
	})
	if err != nil {
		t.Fatalf("deploy callback failed: %v", err)
	}

	if got := env.getWorkflow(t, wf.ID).Status; got != orchestrator.WorkflowStatusFailed {
		t.Errorf("workflow status = %s, want FAILED", got)
	}
	if env.executor.taskCount() != before {
		t.Error("a halted workflow must not run the teardown step")
	}
	if env.getService(t, originalID).DeploymentState != orchestrator.DeploymentStateDeploySuccess {
		t.Error("the original service must be untouched after a halted migration")
	}
}

func TestPortWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	originalID := env.deployService(t)

	req := testDeployRequest()
	req.FlavorName = "5-node"
	wf, err := env.engine.Port(ctx, originalID, req, owner)
	if err != nil {
		t.Fatalf("port failed: %v", err)
	}
	if wf.Type != orchestrator.WorkflowTypePort {
		t.Errorf("workflow type = %s, want PORT", wf.Type)
	}
	if task := env.executor.lastTask(t); task.FlavorName != "5-node" {
		t.Errorf("replacement flavor = %s, want 5-node", task.FlavorName)
	}
}

func TestRecreateWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	wf, err := env.engine.Recreate(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("recreate failed: %v", err)
	}
	if wf.Type != orchestrator.WorkflowTypeRecreate {
		t.Errorf("workflow type = %s, want RECREATE", wf.Type)
	}
	if wf.NewServiceID != serviceID {
		t.Error("recreate redeploys in place, the service id must not change")
	}

	// Step one: teardown.
	if task := env.executor.lastTask(t); task.Scenario != orchestrator.ScenarioDestroy {
		t.Errorf("first step = %s, want destroy", task.Scenario)
	}
	err = env.engine.IngestCallback(ctx, serviceID, orchestrator.ScenarioDestroy, orchestrator.CallbackPayload{Success: true})
	if err != nil {
		t.Fatalf("destroy callback failed: %v", err)
	}

	// Step two: redeploy from the recorded request snapshot.
	task := env.executor.lastTask(t)
	if task.Scenario != orchestrator.ScenarioDeploy || task.ServiceID != serviceID {
		t.Errorf("second step = %s on %s, want deploy in place", task.Scenario, task.ServiceID)
	}
	if task.Properties["admin_passwd"] != "s3cret" {
		t.Error("redeploy must reuse the original deployment variables")
	}
	if env.getService(t, serviceID).DeploymentState != orchestrator.DeploymentStateDeploying {
		t.Error("service must be DEPLOYING during the redeploy step")
	}

	err = env.engine.IngestCallback(ctx, serviceID, orchestrator.ScenarioDeploy, orchestrator.CallbackPayload{
		Success:   true,
		Resources: testResources(),
	})
	if err != nil {
		t.Fatalf("deploy callback failed: %v", err)
	}

	if got := env.getWorkflow(t, wf.ID).Status; got != orchestrator.WorkflowStatusSuccessful {
		t.Errorf("workflow status = %s, want SUCCESSFUL", got)
	}
	if env.getService(t, serviceID).DeploymentState != orchestrator.DeploymentStateDeploySuccess {
		t.Error("service must end in DEPLOY_SUCCESS after recreation")
	}
}

func TestRecreateHaltsOnDestroyFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	wf, err := env.engine.Recreate(ctx, serviceID, owner)
	if err != nil {
		t.Fatalf("recreate failed: %v", err)
	}

	before := env.executor.taskCount()
	err = env.engine.IngestCallback(ctx, serviceID, orchestrator.ScenarioDestroy, orchestrator.CallbackPayload{
		Success:      false,
		ErrorMessage: "instance is locked by the provider",
	})
	if err != nil {
		t.Fatalf("destroy callback failed: %v", err)
	}

	if got := env.getWorkflow(t, wf.ID).Status; got != orchestrator.WorkflowStatusFailed {
		t.Errorf("workflow status = %s, want FAILED", got)
	}
	if env.executor.taskCount() != before {
		t.Error("a halted recreation must not run the redeploy step")
	}
	if env.getService(t, serviceID).DeploymentState != orchestrator.DeploymentStateManualCleanupRequired {
		t.Error("a failed teardown leaves the service in MANUAL_CLEANUP_REQUIRED")
	}
}

func TestRecreateRequiresRequestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A service record without any order history cannot be recreated.
	svc := &orchestrator.ServiceDeployment{
		ID:              uuid.New(),
		OwnerID:         owner.UserID,
		Csp:             orchestrator.CspOpenstack,
		Region:          "RegionOne",
		DeploymentState: orchestrator.DeploymentStateDeploySuccess,
		ServiceState:    orchestrator.ServiceStateNotRunning,
	}
	if err := env.store.CreateServiceDeployment(ctx, svc); err != nil {
		t.Fatalf("failed to seed service: %v", err)
	}

	_, err := env.engine.Recreate(ctx, svc.ID, owner)
	expectKind(t, err, orchestrator.ErrInvalidState)
}

func TestMigrateRejectedWhileInFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.engine.Deploy(ctx, testDeployRequest(), owner)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	_, err = env.engine.Migrate(ctx, order.ServiceID, testDeployRequest(), owner)
	expectKind(t, err, orchestrator.ErrInvalidState)
}
