package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// powerTimeout bounds one power action including provider-side job
// polling.
const powerTimeout = 20 * time.Minute

// Start powers the VM resources of a deployed service on. The action
// runs on a pool worker; the returned order tracks its progress.
func (e *Engine) Start(ctx context.Context, serviceID uuid.UUID, who Identity) (*Order, error) {
	return e.powerAction(ctx, serviceID, OrderTypeStart, who)
}

// Stop powers the VM resources of a deployed service off.
func (e *Engine) Stop(ctx context.Context, serviceID uuid.UUID, who Identity) (*Order, error) {
	return e.powerAction(ctx, serviceID, OrderTypeStop, who)
}

// Restart reboots the VM resources of a deployed service.
func (e *Engine) Restart(ctx context.Context, serviceID uuid.UUID, who Identity) (*Order, error) {
	return e.powerAction(ctx, serviceID, OrderTypeRestart, who)
}

func (e *Engine) powerAction(ctx context.Context, serviceID uuid.UUID, op OrderType, who Identity) (*Order, error) {
	svc, order, err := e.admitOperation(ctx, serviceID, op, who, "")
	if err != nil {
		return nil, err
	}

	client, err := e.registry.PowerState(svc.Csp)
	if err != nil {
		e.finishPowerOrder(ctx, svc, order, op, svc.ServiceState, err)
		return nil, err
	}

	prev := svc.ServiceState
	svc.ServiceState = transitionalState(op)
	svc.LastModifiedAt = time.Now().UTC()
	if err := e.store.UpdateServiceDeployment(ctx, svc); err != nil {
		return nil, err
	}

	if err := e.store.MarkOrderInProgress(ctx, order.ID); err != nil {
		return nil, err
	}

	req := PowerRequest{
		OrderID:   order.ID,
		ServiceID: svc.ID,
		Region:    svc.Region,
		VMs:       svc.VMResources(),
	}

	err = e.runner.Submit(func() {
		// The admitting request has long returned; the action gets its
		// own bounded lifetime.
		taskCtx, cancel := context.WithTimeout(context.Background(), powerTimeout)
		defer cancel()
		e.runPowerAction(taskCtx, svc, order, op, prev, client, req)
	})
	if err != nil {
		e.finishPowerOrder(ctx, svc, order, op, prev, err)
		return nil, err
	}

	return order, nil
}

// runPowerAction executes one power action on a pool worker and feeds
// the outcome back into the ledger.
func (e *Engine) runPowerAction(ctx context.Context, svc *ServiceDeployment, order *Order, op OrderType, prev ServiceState, client PowerStateClient, req PowerRequest) {
	var err error
	switch op {
	case OrderTypeStop:
		err = client.Stop(ctx, req)
	case OrderTypeRestart:
		err = client.Restart(ctx, req)
	default:
		err = client.Start(ctx, req)
	}

	final := finalPowerState(op, prev, err == nil)
	e.finishPowerOrder(ctx, svc, order, op, final, err)
}

// finishPowerOrder completes a power order and persists the resulting
// runtime state.
func (e *Engine) finishPowerOrder(ctx context.Context, svc *ServiceDeployment, order *Order, op OrderType, state ServiceState, cause error) {
	status := OrderStatusSuccessful
	message := ""
	if cause != nil {
		status = OrderStatusFailed
		message = cause.Error()
	}

	applied, err := e.store.CompleteOrder(ctx, order.ID, status, message)
	if err != nil {
		e.log.WithError(err).WithOrderID(order.ID.String()).Error("failed to complete power order")
		return
	}
	if !applied {
		return
	}

	fresh, err := e.store.GetServiceDeployment(ctx, svc.ID)
	if err != nil {
		e.log.WithError(err).WithServiceID(svc.ID.String()).Error("failed to load service after power action")
		return
	}
	fresh.ServiceState = state
	fresh.LastModifiedAt = time.Now().UTC()
	if err := e.store.UpdateServiceDeployment(ctx, fresh); err != nil {
		e.log.WithError(err).WithServiceID(svc.ID.String()).Error("failed to persist runtime state")
		return
	}

	e.metrics.RecordPowerAction(string(svc.Csp), string(op), string(status))
	e.metrics.RecordOrderCompleted(string(op), string(status), time.Since(order.CreatedAt))
	_ = e.events.PublishPowerAction(svc.ID.String(), order.ID.String(), string(op), string(status))
	_ = e.events.PublishOrderCompleted(svc.ID.String(), order.ID.String(), string(op), string(status))

	log := e.log.WithServiceID(svc.ID.String()).
		WithOrderID(order.ID.String()).
		WithField("action", op).
		WithField("service_state", state)
	if cause != nil {
		log.WithError(cause).Warn("power action failed")
	} else {
		log.Info("power action completed")
	}
}

func transitionalState(op OrderType) ServiceState {
	switch op {
	case OrderTypeStop:
		return ServiceStateStopping
	case OrderTypeRestart:
		return ServiceStateRestarting
	default:
		return ServiceStateStarting
	}
}

// finalPowerState maps an action outcome to the resulting runtime
// state. Failed actions fall back to the state the service was in
// before the action, except a failed restart which leaves the VMs
// running.
func finalPowerState(op OrderType, prev ServiceState, success bool) ServiceState {
	if success {
		if op == OrderTypeStop {
			return ServiceStateStopped
		}
		return ServiceStateRunning
	}
	if op == OrderTypeRestart {
		return ServiceStateRunning
	}
	return prev
}
