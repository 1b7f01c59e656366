package orchestrator_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

func TestConfigureFansOutPerGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	order, err := env.engine.Configure(ctx, serviceID, map[string]string{
		"log_level":                    "info",
		"kafka-broker.retention_hours": "72",
		"zookeeper.tick_time":          "2000",
	}, owner)
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	if got := env.getOrder(t, order.ID).Status; got != orchestrator.OrderStatusInProgress {
		t.Errorf("order status = %s, want IN_PROGRESS", got)
	}

	reqs, err := env.store.ListConfigRequestsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("request list failed: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("config requests = %d, want one per resource group", len(reqs))
	}

	byGroup := map[string]*orchestrator.ServiceConfigurationUpdateRequest{}
	for _, r := range reqs {
		if r.Status != orchestrator.ConfigRequestStatusPending {
			t.Errorf("request for %s starts %s, want PENDING", r.GroupName, r.Status)
		}
		byGroup[r.GroupName] = r
	}

	kafka, ok := byGroup["kafka-broker"]
	if !ok {
		t.Fatal("missing request for group kafka-broker")
	}
	if kafka.Properties["retention_hours"] != "72" {
		t.Error("group-scoped key must be delivered with the prefix stripped")
	}
	if kafka.Properties["log_level"] != "info" {
		t.Error("unprefixed keys must be broadcast to every group")
	}
	if _, leaked := kafka.Properties["tick_time"]; leaked {
		t.Error("keys addressed to another group must not leak")
	}

	zk, ok := byGroup["zookeeper"]
	if !ok {
		t.Fatal("missing request for group zookeeper")
	}
	if zk.Properties["tick_time"] != "2000" || zk.Properties["log_level"] != "info" {
		t.Errorf("zookeeper properties = %v", zk.Properties)
	}
}

func TestConfigureCompletesWhenAllGroupsReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	order, err := env.engine.Configure(ctx, serviceID, map[string]string{"log_level": "debug"}, owner)
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	reqs, err := env.store.ListConfigRequestsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("request list failed: %v", err)
	}

	// First group reports, the order stays open.
	if err := env.engine.CompleteConfigRequest(ctx, order.ID, reqs[0].ID, true, ""); err != nil {
		t.Fatalf("first report failed: %v", err)
	}
	if got := env.getOrder(t, order.ID).Status; got != orchestrator.OrderStatusInProgress {
		t.Errorf("order status after first report = %s, want IN_PROGRESS", got)
	}

	// Last group reports, the order completes.
	if err := env.engine.CompleteConfigRequest(ctx, order.ID, reqs[1].ID, true, ""); err != nil {
		t.Fatalf("second report failed: %v", err)
	}
	if got := env.getOrder(t, order.ID).Status; got != orchestrator.OrderStatusSuccessful {
		t.Errorf("order status = %s, want SUCCESSFUL", got)
	}
}

func TestConfigureFailedGroupFailsOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	serviceID := env.deployService(t)

	order, err := env.engine.Configure(ctx, serviceID, map[string]string{"log_level": "debug"}, owner)
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	reqs, err := env.store.ListConfigRequestsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("request list failed: %v", err)
	}

	if err := env.engine.CompleteConfigRequest(ctx, order.ID, reqs[0].ID, false, "agent unreachable"); err != nil {
		t.Fatalf("first report failed: %v", err)
	}
	if err := env.engine.CompleteConfigRequest(ctx, order.ID, reqs[1].ID, true, ""); err != nil {
		t.Fatalf("second report failed: %v", err)
	}

	got := env.getOrder(t, order.ID)
	if got.Status != orchestrator.OrderStatusFailed {
		t.Errorf("order status = %s, want FAILED", got.Status)
	}
	if !strings.Contains(got.ResultMessage, "agent unreachable") {
		t.Errorf("result message = %q, want the group failure listed", got.ResultMessage)
	}
}

func TestConfigureWithoutResourceGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Deploy with an inventory that has no named groups.
	order, err := env.engine.Deploy(ctx, testDeployRequest(), owner)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	err = env.engine.IngestCallback(ctx, order.ServiceID, orchestrator.ScenarioDeploy, orchestrator.CallbackPayload{
		Success: true,
		Resources: []orchestrator.DeployResource{
			{ResourceID: "i-1", ResourceKind: orchestrator.ResourceKindVM},
		},
	})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	_, err = env.engine.Configure(ctx, order.ServiceID, map[string]string{"x": "1"}, owner)
	expectKind(t, err, orchestrator.ErrInvalidState)

	// The aborted order is finalized, a retry stays possible.
	if _, err := env.store.GetInFlightOrder(ctx, order.ServiceID); !orchestrator.IsKind(err, orchestrator.ErrOrderNotFound) {
		t.Errorf("expected no in-flight order, got: %v", err)
	}
}

func TestCompleteConfigRequestForUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.CompleteConfigRequest(context.Background(), uuid.New(), uuid.New(), true, "")
	if err == nil {
		t.Fatal("expected an error for an unknown config request")
	}
}

func TestCompleteConfigRequestRejectsForeignRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orderA, err := env.engine.Configure(ctx, env.deployService(t), map[string]string{"log_level": "debug"}, owner)
	if err != nil {
		t.Fatalf("configure A failed: %v", err)
	}
	orderB, err := env.engine.Configure(ctx, env.deployService(t), map[string]string{"log_level": "debug"}, owner)
	if err != nil {
		t.Fatalf("configure B failed: %v", err)
	}
	reqsB, err := env.store.ListConfigRequestsByOrder(ctx, orderB.ID)
	if err != nil {
		t.Fatalf("request list failed: %v", err)
	}

	// A request id from order B reported against order A must not touch
	// either ledger entry.
	err = env.engine.CompleteConfigRequest(ctx, orderA.ID, reqsB[0].ID, true, "")
	expectKind(t, err, orchestrator.ErrCallbackCorrelation)

	reqsB, err = env.store.ListConfigRequestsByOrder(ctx, orderB.ID)
	if err != nil {
		t.Fatalf("request reload failed: %v", err)
	}
	for _, r := range reqsB {
		if r.Status != orchestrator.ConfigRequestStatusPending {
			t.Errorf("request for %s = %s, want PENDING after the rejected report", r.GroupName, r.Status)
		}
	}
	if got := env.getOrder(t, orderA.ID).Status; got != orchestrator.OrderStatusInProgress {
		t.Errorf("order A status = %s, want IN_PROGRESS", got)
	}
	if got := env.getOrder(t, orderB.ID).Status; got != orchestrator.OrderStatusInProgress {
		t.Errorf("order B status = %s, want IN_PROGRESS", got)
	}
}
