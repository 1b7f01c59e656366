package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/telemetry"
)

// CallbackPayload is the deployment result reported by the external IaC
// executor through the webhook.
type CallbackPayload struct {
	// Success reports whether the executor run succeeded.
	Success bool `json:"success"`

	// ErrorMessage describes the failure when Success is false.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Resources is the provisioned resource inventory extracted from the
	// executor state. Only meaningful for deploy and modify results.
	Resources []DeployResource `json:"resources,omitempty"`

	// TfState is the raw state document produced by the executor run.
	TfState string `json:"tfState,omitempty"`

	// ExecutorVersion is the IaC tool version that produced the result.
	ExecutorVersion string `json:"executorVersion,omitempty"`
}

// IngestCallback correlates an executor callback with its in-flight
// order and finalizes the order, the resource inventory and the
// deployment state in one atomic store operation. Duplicate deliveries
// are accepted without side effects. A failed deploy with a partial
// inventory triggers an automatic rollback.
func (e *Engine) IngestCallback(ctx context.Context, serviceID uuid.UUID, scenario Scenario, payload CallbackPayload) error {
	ctx, span := e.tracer.StartCallbackSpan(ctx, string(scenario), serviceID.String())
	defer span.End()

	svc, err := e.store.GetServiceDeployment(ctx, serviceID)
	if err != nil {
		e.metrics.RecordCallback(string(scenario), telemetry.CallbackRejected)
		telemetry.RecordError(span, err)
		return err
	}

	order, err := e.correlateOrder(ctx, serviceID, scenario)
	if err != nil {
		e.metrics.RecordCallback(string(scenario), telemetry.CallbackRejected)
		e.metrics.RecordErrorKind(string(KindOf(err)))
		telemetry.RecordError(span, err)
		return err
	}
	if order == nil {
		// Latest matching order is already terminal, duplicate delivery.
		e.metrics.RecordCallback(string(scenario), telemetry.CallbackDuplicate)
		telemetry.RecordSuccess(span)
		return nil
	}

	res := e.resultFor(svc, order, scenario, payload)
	applied, err := e.store.ApplyDeploymentResult(ctx, res)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if !applied {
		e.metrics.RecordCallback(string(scenario), telemetry.CallbackDuplicate)
		telemetry.RecordSuccess(span)
		return nil
	}

	e.metrics.RecordCallback(string(scenario), telemetry.CallbackApplied)
	e.metrics.RecordOrderCompleted(string(order.Type), string(res.OrderStatus), time.Since(order.CreatedAt))
	_ = e.events.PublishCallbackReceived(serviceID.String(), string(scenario), telemetry.CallbackApplied)
	_ = e.events.PublishOrderCompleted(serviceID.String(), order.ID.String(), string(order.Type), string(res.OrderStatus))
	if res.DeploymentState != "" && res.DeploymentState != svc.DeploymentState {
		_ = e.events.PublishServiceStateChanged(serviceID.String(), string(svc.DeploymentState), string(res.DeploymentState))
	}
	e.log.WithServiceID(serviceID.String()).
		WithOrderID(order.ID.String()).
		WithField("scenario", scenario).
		WithField("success", payload.Success).
		Info("deployment result applied")

	if order.WorkflowID != nil {
		e.advanceWorkflow(ctx, order, payload.Success)
	}

	if scenario == ScenarioDeploy && !payload.Success && len(payload.Resources) > 0 {
		e.rollbackFailedDeploy(ctx, svc, order)
	}

	telemetry.RecordSuccess(span)
	return nil
}

// correlateOrder resolves the callback to the single in-flight order of
// the service. A nil order with nil error means the callback duplicates
// an already finalized result.
func (e *Engine) correlateOrder(ctx context.Context, serviceID uuid.UUID, scenario Scenario) (*Order, error) {
	order, err := e.store.GetInFlightOrder(ctx, serviceID)
	if err == nil {
		if order.Type != scenario.OrderType() {
			return nil, NewCallbackCorrelationFailed(serviceID,
				"in-flight order is "+string(order.Type)+", callback scenario is "+string(scenario))
		}
		return order, nil
	}
	if !IsKind(err, ErrOrderNotFound) {
		return nil, err
	}

	// No in-flight order. Accept the callback as a duplicate when the
	// newest order of the matching type is already terminal.
	orders, err := e.store.ListOrdersByService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Type == scenario.OrderType() {
			if orders[i].Status.IsTerminal() {
				return nil, nil
			}
			break
		}
	}
	return nil, NewCallbackCorrelationFailed(serviceID, "no in-flight order matches scenario "+string(scenario))
}

// resultFor maps a callback to the atomic deployment result the store
// applies. Reported resources get record identities assigned here.
func (e *Engine) resultFor(svc *ServiceDeployment, order *Order, scenario Scenario, payload CallbackPayload) *DeploymentResult {
	res := &DeploymentResult{
		ServiceID:     svc.ID,
		OrderID:       order.ID,
		ResultMessage: payload.ErrorMessage,
	}
	if payload.Success {
		res.OrderStatus = OrderStatusSuccessful
	} else {
		res.OrderStatus = OrderStatusFailed
	}

	resources := make([]DeployResource, len(payload.Resources))
	for i, r := range payload.Resources {
		r.ID = uuid.New()
		r.ServiceID = svc.ID
		resources[i] = r
	}

	switch scenario {
	case ScenarioDeploy:
		if payload.Success {
			res.DeploymentState = DeploymentStateDeploySuccess
			res.ServiceState = ServiceStateNotRunning
		} else {
			res.DeploymentState = DeploymentStateDeployFailed
		}
		// Partial inventories of failed deploys are kept so a rollback
		// knows what to tear down.
		res.Resources = resources
		res.ReplaceResources = true

	case ScenarioModify:
		if payload.Success {
			res.DeploymentState = DeploymentStateModificationSuccessful
			res.Resources = resources
			res.ReplaceResources = true
		} else {
			res.DeploymentState = DeploymentStateModificationFailed
		}

	case ScenarioDestroy:
		if payload.Success {
			res.DeploymentState = DeploymentStateDestroySuccess
			res.ServiceState = ServiceStateNotRunning
			res.ReplaceResources = true
		} else {
			res.DeploymentState = DeploymentStateManualCleanupRequired
		}

	case ScenarioRollback:
		if payload.Success {
			res.DeploymentState = DeploymentStateDeployFailed
			res.ReplaceResources = true
		} else {
			res.DeploymentState = DeploymentStateManualCleanupRequired
		}

	case ScenarioPurge:
		if payload.Success {
			res.RemoveRecord = true
		} else {
			res.DeploymentState = DeploymentStateManualCleanupRequired
		}
	}

	return res
}

// rollbackFailedDeploy admits a ROLLBACK order for a deploy that failed
// with resources already provisioned and hands the teardown to the
// executor. Best effort: a rollback that cannot be admitted leaves the
// service in DEPLOY_FAILED for manual retry.
func (e *Engine) rollbackFailedDeploy(ctx context.Context, svc *ServiceDeployment, failed *Order) {
	order := &Order{
		ID:         uuid.New(),
		ServiceID:  svc.ID,
		OwnerID:    failed.OwnerID,
		Type:       OrderTypeRollback,
		Status:     OrderStatusCreated,
		WorkflowID: failed.WorkflowID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.AdmitOrder(ctx, order); err != nil {
		e.log.WithError(err).
			WithServiceID(svc.ID.String()).
			Warn("automatic rollback could not be admitted")
		return
	}
	e.metrics.RecordOrderAdmitted(string(OrderTypeRollback))
	_ = e.events.PublishOrderAdmitted(svc.ID.String(), order.ID.String(), string(OrderTypeRollback))

	// Reload for the partial inventory persisted by the failed deploy.
	fresh, err := e.store.GetServiceDeployment(ctx, svc.ID)
	if err != nil {
		e.log.WithError(err).WithServiceID(svc.ID.String()).
			Warn("automatic rollback aborted")
		return
	}

	if err := e.transition(ctx, fresh, DeploymentStateRollingBack); err != nil {
		e.log.WithError(err).WithServiceID(svc.ID.String()).
			Warn("automatic rollback aborted")
		return
	}
	if err := e.submitToExecutor(ctx, fresh, order, ScenarioRollback, nil); err != nil {
		return
	}

	e.log.WithServiceID(svc.ID.String()).
		WithOrderID(order.ID.String()).
		Info("automatic rollback of failed deployment started")
}
