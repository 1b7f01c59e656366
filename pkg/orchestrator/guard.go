package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// admitOperation runs the shared admission pipeline for a mutating
// operation: existence, ownership, locks and state compatibility are
// checked in that order, then the order is admitted transactionally.
// None of the checks mutate state; the single-in-flight invariant is
// enforced inside Store.AdmitOrder, not here.
func (e *Engine) admitOperation(ctx context.Context, serviceID uuid.UUID, op OrderType, who Identity, snapshot string) (*ServiceDeployment, *Order, error) {
	svc, err := e.store.GetServiceDeployment(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}

	if err := authorize(svc, who); err != nil {
		return nil, nil, err
	}

	if err := checkLocks(svc, op, who); err != nil {
		return nil, nil, err
	}

	if err := checkStateCompatibility(svc, op); err != nil {
		return nil, nil, err
	}

	order := &Order{
		ID:              uuid.New(),
		ServiceID:       serviceID,
		OwnerID:         who.UserID,
		Type:            op,
		Status:          OrderStatusCreated,
		RequestSnapshot: snapshot,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.store.AdmitOrder(ctx, order); err != nil {
		return nil, nil, err
	}

	e.metrics.RecordOrderAdmitted(string(op))
	_ = e.events.PublishOrderAdmitted(serviceID.String(), order.ID.String(), string(op))
	e.log.WithServiceID(serviceID.String()).
		WithOrderID(order.ID.String()).
		WithField("order_type", op).
		Info("order admitted")

	return svc, order, nil
}

// authorize rejects requesters that neither own the service nor carry
// an administrative role.
func authorize(svc *ServiceDeployment, who Identity) error {
	if svc.OwnerID == who.UserID || who.IsAdmin() {
		return nil
	}
	return NewAccessDenied(svc.ID, who.UserID)
}

// destroyClass operations are blocked by the destroy lock, modifyClass
// operations by the modify lock. Composite operations fall under both
// because they destroy one side and reshape the other.
func opClasses(op OrderType) (destroyClass, modifyClass bool) {
	switch op {
	case OrderTypeDestroy, OrderTypePurge:
		return true, false
	case OrderTypeModify, OrderTypeConfigure:
		return false, true
	case OrderTypeMigrate, OrderTypePort, OrderTypeRecreate:
		return true, true
	}
	return false, false
}

// checkLocks rejects operations blocked by the service lock config.
// Administrators bypass locks.
func checkLocks(svc *ServiceDeployment, op OrderType, who Identity) error {
	if who.IsAdmin() {
		return nil
	}
	destroyClass, modifyClass := opClasses(op)
	if destroyClass && svc.LockConfig.DestroyLocked {
		return NewServiceLocked(svc.ID, op)
	}
	if modifyClass && svc.LockConfig.ModifyLocked {
		return NewServiceLocked(svc.ID, op)
	}
	return nil
}

// checkStateCompatibility rejects operations the current deployment or
// runtime state cannot support.
func checkStateCompatibility(svc *ServiceDeployment, op OrderType) error {
	ds := svc.DeploymentState

	switch op {
	case OrderTypeModify, OrderTypeConfigure, OrderTypeMigrate, OrderTypePort, OrderTypeRecreate:
		if !ds.IsDeployed() {
			return NewInvalidState(svc.ID, "operation %s requires a deployed service, current state is %s", op, ds)
		}

	case OrderTypeDestroy:
		switch ds {
		case DeploymentStateDeploySuccess, DeploymentStateDeployFailed,
			DeploymentStateModificationSuccessful, DeploymentStateModificationFailed,
			DeploymentStateDestroyFailed:
		default:
			return NewInvalidState(svc.ID, "service cannot be destroyed from state %s", ds)
		}

	case OrderTypePurge:
		switch ds {
		case DeploymentStateDestroySuccess, DeploymentStateDestroyFailed,
			DeploymentStateDeployFailed, DeploymentStateManualCleanupRequired:
		default:
			return NewInvalidState(svc.ID, "service cannot be purged from state %s", ds)
		}

	case OrderTypeStart, OrderTypeStop, OrderTypeRestart:
		if !ds.IsDeployed() {
			return NewInvalidState(svc.ID, "power operation %s requires a deployed service, current state is %s", op, ds)
		}
		if svc.ServiceState.IsTransitional() {
			return NewInvalidState(svc.ID, "a power operation is already in progress, service state is %s", svc.ServiceState)
		}
		if len(svc.VMResources()) == 0 {
			return NewInvalidState(svc.ID, "service has no VM resources to manage")
		}
		switch op {
		case OrderTypeStart:
			if svc.ServiceState != ServiceStateNotRunning && svc.ServiceState != ServiceStateStopped {
				return NewInvalidState(svc.ID, "service cannot be started from state %s", svc.ServiceState)
			}
		default:
			if svc.ServiceState != ServiceStateRunning {
				return NewInvalidState(svc.ID, "operation %s requires a running service, current state is %s", op, svc.ServiceState)
			}
		}
	}

	return nil
}
