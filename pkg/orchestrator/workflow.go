package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Migrate replaces a deployed service with a fresh deployment described
// by req, typically in another region, then destroys the original. The
// two steps run strictly sequentially; the original is only torn down
// after the replacement deployed successfully.
func (e *Engine) Migrate(ctx context.Context, serviceID uuid.UUID, req DeployRequest, who Identity) (*Workflow, error) {
	return e.startReplacementWorkflow(ctx, WorkflowTypeMigrate, OrderTypeMigrate, serviceID, req, who)
}

// Port replaces a deployed service with a new deployment on a different
// flavor or template within the same provider, then destroys the
// original.
func (e *Engine) Port(ctx context.Context, serviceID uuid.UUID, req DeployRequest, who Identity) (*Workflow, error) {
	return e.startReplacementWorkflow(ctx, WorkflowTypePort, OrderTypePort, serviceID, req, who)
}

// startReplacementWorkflow runs the shared deploy-then-destroy
// composition of migrate and port.
func (e *Engine) startReplacementWorkflow(ctx context.Context, wtype WorkflowType, op OrderType, serviceID uuid.UUID, req DeployRequest, who Identity) (*Workflow, error) {
	oldSvc, err := e.store.GetServiceDeployment(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if err := authorize(oldSvc, who); err != nil {
		return nil, err
	}
	if err := checkLocks(oldSvc, op, who); err != nil {
		return nil, err
	}
	if err := checkStateCompatibility(oldSvc, op); err != nil {
		return nil, err
	}

	wf := &Workflow{
		ID:                uuid.New(),
		Type:              wtype,
		Status:            WorkflowStatusInProgress,
		OriginalServiceID: serviceID,
		OwnerID:           who.UserID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	// Tag the original deploy order so the full history of both
	// services reads as one composite operation.
	e.tagOriginalDeployOrder(ctx, serviceID, wf.ID)

	deployOrder, err := e.deployService(ctx, req, who, &wf.ID)
	if err != nil {
		if werr := e.store.UpdateWorkflowStatus(ctx, wf.ID, WorkflowStatusFailed); werr != nil {
			e.log.WithError(werr).WithWorkflowID(wf.ID.String()).Error("failed to fail workflow")
		}
		return nil, err
	}

	wf.NewServiceID = deployOrder.ServiceID
	if err := e.store.UpdateWorkflowNewService(ctx, wf.ID, deployOrder.ServiceID); err != nil {
		e.log.WithError(err).WithWorkflowID(wf.ID.String()).Error("failed to record replacement service")
	}

	e.log.WithWorkflowID(wf.ID.String()).
		WithServiceID(serviceID.String()).
		WithField("new_service_id", deployOrder.ServiceID).
		WithField("workflow_type", wtype).
		Info("replacement workflow started")
	return wf, nil
}

// Recreate tears a deployed service down and deploys it again in place,
// reusing the original deployment request.
func (e *Engine) Recreate(ctx context.Context, serviceID uuid.UUID, who Identity) (*Workflow, error) {
	svc, err := e.store.GetServiceDeployment(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if err := authorize(svc, who); err != nil {
		return nil, err
	}
	if err := checkLocks(svc, OrderTypeRecreate, who); err != nil {
		return nil, err
	}
	if err := checkStateCompatibility(svc, OrderTypeRecreate); err != nil {
		return nil, err
	}

	// The redeploy step needs the original request. Resolve it up front
	// so a service without a usable snapshot is rejected before any
	// teardown happens.
	if _, err := e.lastDeployRequest(ctx, serviceID); err != nil {
		return nil, err
	}

	wf := &Workflow{
		ID:                uuid.New(),
		Type:              WorkflowTypeRecreate,
		Status:            WorkflowStatusInProgress,
		OriginalServiceID: serviceID,
		NewServiceID:      serviceID,
		OwnerID:           who.UserID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	e.tagOriginalDeployOrder(ctx, serviceID, wf.ID)

	order, err := e.admitMemberOrder(ctx, serviceID, OrderTypeDestroy, who.UserID, wf.ID)
	if err != nil {
		if werr := e.store.UpdateWorkflowStatus(ctx, wf.ID, WorkflowStatusFailed); werr != nil {
			e.log.WithError(werr).WithWorkflowID(wf.ID.String()).Error("failed to fail workflow")
		}
		return nil, err
	}

	if err := e.transition(ctx, svc, DeploymentStateDestroying); err != nil {
		return nil, err
	}
	if err := e.submitToExecutor(ctx, svc, order, ScenarioDestroy, nil); err != nil {
		return nil, err
	}

	e.log.WithWorkflowID(wf.ID.String()).
		WithServiceID(serviceID.String()).
		Info("recreate workflow started")
	return wf, nil
}

// advanceWorkflow runs the next step after a member order completed. A
// failed member halts the workflow; remaining steps never run.
func (e *Engine) advanceWorkflow(ctx context.Context, order *Order, success bool) {
	wf, err := e.store.GetWorkflow(ctx, *order.WorkflowID)
	if err != nil {
		e.log.WithError(err).WithOrderID(order.ID.String()).Error("workflow lookup failed")
		return
	}
	if wf.Status != WorkflowStatusInProgress {
		return
	}

	log := e.log.WithWorkflowID(wf.ID.String()).WithField("workflow_type", wf.Type)

	if !success {
		if err := e.store.UpdateWorkflowStatus(ctx, wf.ID, WorkflowStatusFailed); err != nil {
			log.WithError(err).Error("failed to fail workflow")
			return
		}
		log.WithOrderID(order.ID.String()).Warn("workflow halted after failed step")
		return
	}

	switch {
	case (wf.Type == WorkflowTypeMigrate || wf.Type == WorkflowTypePort) && order.Type == OrderTypeDeploy:
		e.startWorkflowDestroy(ctx, wf, wf.OriginalServiceID)

	case (wf.Type == WorkflowTypeMigrate || wf.Type == WorkflowTypePort) && order.Type == OrderTypeDestroy:
		e.finishWorkflow(ctx, wf)

	case wf.Type == WorkflowTypeRecreate && order.Type == OrderTypeDestroy:
		e.startWorkflowRedeploy(ctx, wf)

	case wf.Type == WorkflowTypeRecreate && order.Type == OrderTypeDeploy:
		e.finishWorkflow(ctx, wf)
	}
}

// startWorkflowDestroy admits and submits the teardown step of a
// replacement workflow.
func (e *Engine) startWorkflowDestroy(ctx context.Context, wf *Workflow, serviceID uuid.UUID) {
	log := e.log.WithWorkflowID(wf.ID.String()).WithServiceID(serviceID.String())

	svc, err := e.store.GetServiceDeployment(ctx, serviceID)
	if err != nil {
		log.WithError(err).Error("workflow destroy step aborted")
		e.haltWorkflow(ctx, wf)
		return
	}

	order, err := e.admitMemberOrder(ctx, serviceID, OrderTypeDestroy, wf.OwnerID, wf.ID)
	if err != nil {
		log.WithError(err).Warn("workflow destroy step could not be admitted")
		e.haltWorkflow(ctx, wf)
		return
	}

	if err := e.transition(ctx, svc, DeploymentStateDestroying); err != nil {
		log.WithError(err).Error("workflow destroy step aborted")
		e.haltWorkflow(ctx, wf)
		return
	}
	if err := e.submitToExecutor(ctx, svc, order, ScenarioDestroy, nil); err != nil {
		e.haltWorkflow(ctx, wf)
		return
	}

	log.Info("workflow teardown of original service started")
}

// startWorkflowRedeploy admits and submits the in-place redeploy step
// of a recreate workflow.
func (e *Engine) startWorkflowRedeploy(ctx context.Context, wf *Workflow) {
	log := e.log.WithWorkflowID(wf.ID.String()).WithServiceID(wf.OriginalServiceID.String())

	req, err := e.lastDeployRequest(ctx, wf.OriginalServiceID)
	if err != nil {
		log.WithError(err).Error("workflow redeploy step aborted")
		e.haltWorkflow(ctx, wf)
		return
	}

	svc, err := e.store.GetServiceDeployment(ctx, wf.OriginalServiceID)
	if err != nil {
		log.WithError(err).Error("workflow redeploy step aborted")
		e.haltWorkflow(ctx, wf)
		return
	}

	order, err := e.admitMemberOrder(ctx, svc.ID, OrderTypeDeploy, wf.OwnerID, wf.ID)
	if err != nil {
		log.WithError(err).Warn("workflow redeploy step could not be admitted")
		e.haltWorkflow(ctx, wf)
		return
	}

	if err := e.transition(ctx, svc, DeploymentStateDeploying); err != nil {
		log.WithError(err).Error("workflow redeploy step aborted")
		e.haltWorkflow(ctx, wf)
		return
	}
	if err := e.submitToExecutor(ctx, svc, order, ScenarioDeploy, req.Properties); err != nil {
		e.haltWorkflow(ctx, wf)
		return
	}

	log.Info("workflow in-place redeploy started")
}

func (e *Engine) finishWorkflow(ctx context.Context, wf *Workflow) {
	if err := e.store.UpdateWorkflowStatus(ctx, wf.ID, WorkflowStatusSuccessful); err != nil {
		e.log.WithError(err).WithWorkflowID(wf.ID.String()).Error("failed to finish workflow")
		return
	}
	e.log.WithWorkflowID(wf.ID.String()).
		WithField("workflow_type", wf.Type).
		Info("workflow completed")
}

func (e *Engine) haltWorkflow(ctx context.Context, wf *Workflow) {
	if err := e.store.UpdateWorkflowStatus(ctx, wf.ID, WorkflowStatusFailed); err != nil {
		e.log.WithError(err).WithWorkflowID(wf.ID.String()).Error("failed to fail workflow")
	}
}

// admitMemberOrder admits a workflow step order. The composing call
// already ran the guard checks for the composite operation; the
// single-in-flight invariant is still enforced by the store.
func (e *Engine) admitMemberOrder(ctx context.Context, serviceID uuid.UUID, op OrderType, ownerID string, workflowID uuid.UUID) (*Order, error) {
	order := &Order{
		ID:         uuid.New(),
		ServiceID:  serviceID,
		OwnerID:    ownerID,
		Type:       op,
		Status:     OrderStatusCreated,
		WorkflowID: &workflowID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.AdmitOrder(ctx, order); err != nil {
		return nil, err
	}
	e.metrics.RecordOrderAdmitted(string(op))
	_ = e.events.PublishOrderAdmitted(serviceID.String(), order.ID.String(), string(op))
	return order, nil
}

// tagOriginalDeployOrder stamps the most recent DEPLOY order of the
// service with the workflow id for audit continuity. Best effort: a
// service imported without order history simply stays untagged.
func (e *Engine) tagOriginalDeployOrder(ctx context.Context, serviceID, workflowID uuid.UUID) {
	orders, err := e.store.ListOrdersByService(ctx, serviceID)
	if err != nil {
		e.log.WithError(err).WithServiceID(serviceID.String()).Debug("order history lookup failed")
		return
	}
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Type == OrderTypeDeploy && orders[i].WorkflowID == nil {
			if err := e.store.TagOrderWorkflow(ctx, orders[i].ID, workflowID); err != nil {
				e.log.WithError(err).WithOrderID(orders[i].ID.String()).Debug("order tagging failed")
			}
			return
		}
	}
}

// lastDeployRequest recovers the deployment request of the most recent
// DEPLOY order, used by recreate to redeploy in place.
func (e *Engine) lastDeployRequest(ctx context.Context, serviceID uuid.UUID) (*DeployRequest, error) {
	orders, err := e.store.ListOrdersByService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Type != OrderTypeDeploy || orders[i].RequestSnapshot == "" {
			continue
		}
		var req DeployRequest
		if err := json.Unmarshal([]byte(orders[i].RequestSnapshot), &req); err != nil {
			return nil, NewInvalidState(serviceID, "deployment request snapshot is not readable: %v", err)
		}
		return &req, nil
	}
	return nil, NewInvalidState(serviceID, "service has no deployment request snapshot to recreate from")
}
