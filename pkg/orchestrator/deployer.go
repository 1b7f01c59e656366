package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/telemetry"
)

// DeployRequest describes a new service deployment.
type DeployRequest struct {
	Csp               Csp               `json:"csp"`
	Region            string            `json:"region"`
	Category          string            `json:"category"`
	FlavorName        string            `json:"flavorName"`
	ServiceTemplateID uuid.UUID         `json:"serviceTemplateId"`
	Properties        map[string]string `json:"properties,omitempty"`
	LockConfig        LockConfig        `json:"lockConfig"`
}

// ModifyRequest describes an update of a deployed service.
type ModifyRequest struct {
	FlavorName string            `json:"flavorName,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Deploy creates a new service record in DEPLOYING, admits the DEPLOY
// order and hands the task to the executor. The returned order tracks
// the asynchronous provisioning.
func (e *Engine) Deploy(ctx context.Context, req DeployRequest, who Identity) (*Order, error) {
	return e.deployService(ctx, req, who, nil)
}

// deployService is the shared deploy path for plain deployments and
// workflow deploy steps, which additionally tag the order.
func (e *Engine) deployService(ctx context.Context, req DeployRequest, who Identity, workflowID *uuid.UUID) (*Order, error) {
	now := time.Now().UTC()
	svc := &ServiceDeployment{
		ID:                uuid.New(),
		OwnerID:           who.UserID,
		Csp:               req.Csp,
		Region:            req.Region,
		Category:          req.Category,
		FlavorName:        req.FlavorName,
		ServiceTemplateID: req.ServiceTemplateID,
		DeploymentState:   DeploymentStateDeploying,
		ServiceState:      ServiceStateNotRunning,
		LockConfig:        req.LockConfig,
		CreatedAt:         now,
		LastModifiedAt:    now,
	}

	ctx, span := e.tracer.StartOrderSpan(ctx, string(OrderTypeDeploy), svc.ID.String(), "")
	defer span.End()

	// The executor must be resolvable before anything is persisted.
	if _, err := e.registry.Deployer(svc.Csp); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if err := e.store.CreateServiceDeployment(ctx, svc); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	order := &Order{
		ID:              uuid.New(),
		ServiceID:       svc.ID,
		OwnerID:         who.UserID,
		Type:            OrderTypeDeploy,
		Status:          OrderStatusCreated,
		WorkflowID:      workflowID,
		RequestSnapshot: marshalSnapshot(req),
		CreatedAt:       now,
	}
	if err := e.store.AdmitOrder(ctx, order); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	e.metrics.RecordOrderAdmitted(string(OrderTypeDeploy))
	_ = e.events.PublishOrderAdmitted(svc.ID.String(), order.ID.String(), string(OrderTypeDeploy))

	if err := e.submitToExecutor(ctx, svc, order, ScenarioDeploy, req.Properties); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.RecordSuccess(span)
	return order, nil
}

// Modify admits a MODIFY order for a deployed service and hands the
// update to the executor.
func (e *Engine) Modify(ctx context.Context, serviceID uuid.UUID, req ModifyRequest, who Identity) (*Order, error) {
	svc, order, err := e.admitOperation(ctx, serviceID, OrderTypeModify, who, marshalSnapshot(req))
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.StartOrderSpan(ctx, string(OrderTypeModify), serviceID.String(), order.ID.String())
	defer span.End()

	if req.FlavorName != "" {
		svc.FlavorName = req.FlavorName
	}

	if err := e.transition(ctx, svc, DeploymentStateModifying); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := e.submitToExecutor(ctx, svc, order, ScenarioModify, req.Properties); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.RecordSuccess(span)
	return order, nil
}

// Destroy admits a DESTROY order and hands the teardown to the
// executor. A failed teardown leaves the service in
// MANUAL_CLEANUP_REQUIRED via the callback path.
func (e *Engine) Destroy(ctx context.Context, serviceID uuid.UUID, who Identity) (*Order, error) {
	svc, order, err := e.admitOperation(ctx, serviceID, OrderTypeDestroy, who, "")
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.StartOrderSpan(ctx, string(OrderTypeDestroy), serviceID.String(), order.ID.String())
	defer span.End()

	if err := e.transition(ctx, svc, DeploymentStateDestroying); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := e.submitToExecutor(ctx, svc, order, ScenarioDestroy, nil); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.RecordSuccess(span)
	return order, nil
}

// Purge removes a service that is already torn down or beyond repair.
// When no resources remain the record is removed synchronously; when
// resources linger the executor performs a final destroy and the record
// is removed by the callback.
func (e *Engine) Purge(ctx context.Context, serviceID uuid.UUID, who Identity) (*Order, error) {
	svc, order, err := e.admitOperation(ctx, serviceID, OrderTypePurge, who, "")
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.StartOrderSpan(ctx, string(OrderTypePurge), serviceID.String(), order.ID.String())
	defer span.End()

	if len(svc.Resources) == 0 {
		res := &DeploymentResult{
			ServiceID:    svc.ID,
			OrderID:      order.ID,
			OrderStatus:  OrderStatusSuccessful,
			RemoveRecord: true,
		}
		if _, err := e.store.ApplyDeploymentResult(ctx, res); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		e.metrics.RecordOrderCompleted(string(OrderTypePurge), string(OrderStatusSuccessful), time.Since(order.CreatedAt))
		_ = e.events.PublishOrderCompleted(svc.ID.String(), order.ID.String(), string(OrderTypePurge), string(OrderStatusSuccessful))
		e.log.WithServiceID(svc.ID.String()).Info("service record purged")
		telemetry.RecordSuccess(span)
		return order, nil
	}

	if err := e.transition(ctx, svc, DeploymentStatePurging); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := e.submitToExecutor(ctx, svc, order, ScenarioPurge, nil); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.RecordSuccess(span)
	return order, nil
}

// SetLocks updates the destroy/modify locks of a service. The update is
// synchronous and tracked by no order.
func (e *Engine) SetLocks(ctx context.Context, serviceID uuid.UUID, locks LockConfig, who Identity) error {
	svc, err := e.store.GetServiceDeployment(ctx, serviceID)
	if err != nil {
		return err
	}
	if err := authorize(svc, who); err != nil {
		return err
	}

	svc.LockConfig = locks
	svc.LastModifiedAt = time.Now().UTC()
	if err := e.store.UpdateServiceDeployment(ctx, svc); err != nil {
		return err
	}

	e.log.WithServiceID(serviceID.String()).
		WithField("destroy_locked", locks.DestroyLocked).
		WithField("modify_locked", locks.ModifyLocked).
		Info("service locks updated")
	return nil
}

// transition persists an in-flight deployment state.
func (e *Engine) transition(ctx context.Context, svc *ServiceDeployment, state DeploymentState) error {
	svc.DeploymentState = state
	svc.LastModifiedAt = time.Now().UTC()
	return e.store.UpdateServiceDeployment(ctx, svc)
}

// submitToExecutor marks the order in progress and fires the task at
// the executor. A synchronous submission failure finalizes the order
// immediately since no callback will ever arrive for it.
func (e *Engine) submitToExecutor(ctx context.Context, svc *ServiceDeployment, order *Order, scenario Scenario, props map[string]string) error {
	client, err := e.registry.Deployer(svc.Csp)
	if err != nil {
		e.failSubmission(ctx, svc, order, scenario, err)
		return err
	}

	if err := e.store.MarkOrderInProgress(ctx, order.ID); err != nil {
		return err
	}

	task := DeployTask{
		OrderID:           order.ID,
		ServiceID:         svc.ID,
		Scenario:          scenario,
		ServiceTemplateID: svc.ServiceTemplateID,
		Region:            svc.Region,
		FlavorName:        svc.FlavorName,
		Properties:        props,
	}

	timer := telemetry.NewTimer()
	switch scenario {
	case ScenarioModify:
		err = client.SubmitModify(ctx, task)
	case ScenarioDestroy:
		err = client.SubmitDestroy(ctx, task)
	case ScenarioRollback:
		err = client.SubmitRollback(ctx, task)
	case ScenarioPurge:
		err = client.SubmitPurge(ctx, task)
	default:
		err = client.SubmitDeploy(ctx, task)
	}
	e.metrics.RecordProviderCall(string(svc.Csp), "submit_"+string(scenario), timer.Duration())

	if err != nil {
		e.metrics.RecordProviderError(string(svc.Csp), "submit_"+string(scenario))
		e.failSubmission(ctx, svc, order, scenario, err)
		return err
	}

	e.log.WithServiceID(svc.ID.String()).
		WithOrderID(order.ID.String()).
		WithField("scenario", scenario).
		Debug("task submitted to executor")
	return nil
}

// failSubmission finalizes an order whose task never reached the
// executor. The deployment state moves to the scenario's failure state
// in the same transaction that fails the order.
func (e *Engine) failSubmission(ctx context.Context, svc *ServiceDeployment, order *Order, scenario Scenario, cause error) {
	res := &DeploymentResult{
		ServiceID:       svc.ID,
		OrderID:         order.ID,
		OrderStatus:     OrderStatusFailed,
		DeploymentState: submissionFailureState(scenario),
		ResultMessage:   cause.Error(),
	}
	if _, err := e.store.ApplyDeploymentResult(ctx, res); err != nil {
		e.log.WithError(err).
			WithOrderID(order.ID.String()).
			Error("failed to finalize order after submission failure")
		return
	}
	e.metrics.RecordOrderCompleted(string(order.Type), string(OrderStatusFailed), time.Since(order.CreatedAt))
	_ = e.events.PublishOrderCompleted(svc.ID.String(), order.ID.String(), string(order.Type), string(OrderStatusFailed))
	e.log.WithError(cause).
		WithServiceID(svc.ID.String()).
		WithOrderID(order.ID.String()).
		Warn("executor submission failed")
}

// submissionFailureState maps a scenario to the deployment state after
// a synchronous submission failure. The executor never ran, so destroy
// and purge land on DESTROY_FAILED which permits a retry, while a
// rollback that cannot even be submitted leaves dangling resources.
func submissionFailureState(scenario Scenario) DeploymentState {
	switch scenario {
	case ScenarioModify:
		return DeploymentStateModificationFailed
	case ScenarioDestroy, ScenarioPurge:
		return DeploymentStateDestroyFailed
	case ScenarioRollback:
		return DeploymentStateManualCleanupRequired
	default:
		return DeploymentStateDeployFailed
	}
}

func marshalSnapshot(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
