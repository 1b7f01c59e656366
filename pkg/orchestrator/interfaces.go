package orchestrator

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence contract the orchestration core runs on.
// Mutating admission and order completion execute as single atomic
// units against the store; that is what makes the single-in-flight
// order invariant hold under concurrent requests.
type Store interface {
	// CreateServiceDeployment inserts a new service record.
	CreateServiceDeployment(ctx context.Context, d *ServiceDeployment) error

	// GetServiceDeployment loads a service together with its resource
	// inventory. Returns a ServiceNotFound error when missing.
	GetServiceDeployment(ctx context.Context, id uuid.UUID) (*ServiceDeployment, error)

	// UpdateServiceDeployment persists mutable service fields (states,
	// locks, result message, last-modified timestamp).
	UpdateServiceDeployment(ctx context.Context, d *ServiceDeployment) error

	// DeleteServiceDeployment removes the service record and its
	// resources. Used by purge.
	DeleteServiceDeployment(ctx context.Context, id uuid.UUID) error

	// ListServiceDeployments returns all services owned by a user.
	ListServiceDeployments(ctx context.Context, ownerID string) ([]*ServiceDeployment, error)

	// AdmitOrder inserts the order if and only if no other order for
	// the same service is CREATED or IN_PROGRESS, in one transaction.
	// A conflicting in-flight order yields an InvalidStateForOperation
	// error.
	AdmitOrder(ctx context.Context, o *Order) error

	// GetOrder loads one order. Returns an OrderNotFound error when
	// missing.
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)

	// GetInFlightOrder returns the single CREATED/IN_PROGRESS order for
	// a service, or an OrderNotFound error when there is none.
	GetInFlightOrder(ctx context.Context, serviceID uuid.UUID) (*Order, error)

	// ListOrdersByService returns all orders of a service, oldest first.
	ListOrdersByService(ctx context.Context, serviceID uuid.UUID) ([]*Order, error)

	// ListOrdersByWorkflow returns the member orders of a workflow in
	// creation order.
	ListOrdersByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*Order, error)

	// MarkOrderInProgress moves a CREATED order to IN_PROGRESS.
	MarkOrderInProgress(ctx context.Context, orderID uuid.UUID) error

	// CompleteOrder applies the terminal status once. It returns false
	// without side effects when the order is already terminal, making
	// duplicate callback delivery safe.
	CompleteOrder(ctx context.Context, orderID uuid.UUID, status OrderStatus, resultMessage string) (bool, error)

	// TagOrderWorkflow stamps an existing order with a workflow id for
	// audit continuity.
	TagOrderWorkflow(ctx context.Context, orderID, workflowID uuid.UUID) error

	// DeleteOrder removes a single order record.
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error

	// DeleteOrdersByService removes all order records of a service.
	DeleteOrdersByService(ctx context.Context, serviceID uuid.UUID) error

	// CreateWorkflow inserts a workflow record.
	CreateWorkflow(ctx context.Context, w *Workflow) error

	// GetWorkflow loads one workflow.
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)

	// UpdateWorkflowStatus advances the aggregate workflow status.
	UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status WorkflowStatus) error

	// UpdateWorkflowNewService records the replacement service of a
	// migrate/port workflow once it exists.
	UpdateWorkflowNewService(ctx context.Context, id, newServiceID uuid.UUID) error

	// ApplyDeploymentResult finalizes a callback in one transaction:
	// the resource inventory is replaced, the deployment state advances
	// and the order completes atomically. When RemoveRecord is set the
	// service record is deleted instead of updated.
	ApplyDeploymentResult(ctx context.Context, res *DeploymentResult) (bool, error)

	// CreateConfigRequests inserts the per-group fan-out of a CONFIGURE
	// order.
	CreateConfigRequests(ctx context.Context, reqs []ServiceConfigurationUpdateRequest) error

	// ListConfigRequestsByOrder returns the fan-out rows of an order.
	ListConfigRequestsByOrder(ctx context.Context, orderID uuid.UUID) ([]*ServiceConfigurationUpdateRequest, error)

	// CompleteConfigRequest applies the terminal status of one group
	// request.
	CompleteConfigRequest(ctx context.Context, id uuid.UUID, status ConfigRequestStatus, resultMessage string) error

	// Ping verifies store connectivity for health checks.
	Ping(ctx context.Context) error
}

// DeploymentResult is the reconciled outcome of one executor callback,
// applied atomically by the store.
type DeploymentResult struct {
	ServiceID uuid.UUID
	OrderID   uuid.UUID

	// OrderStatus is the terminal order status.
	OrderStatus OrderStatus

	// DeploymentState is the terminal lifecycle state to apply.
	DeploymentState DeploymentState

	// ServiceState, when non-empty, resets the runtime power state
	// (fresh deployments come up NOT_RUNNING).
	ServiceState ServiceState

	// Resources replaces the service inventory when ReplaceResources is
	// set. A successful destroy clears it with an empty slice.
	Resources        []DeployResource
	ReplaceResources bool

	// RemoveRecord deletes the service record entirely (purge).
	RemoveRecord bool

	ResultMessage string
}

// Scenario names the executor-facing operation of an in-flight order.
// It is half of the callback correlation id, the service id being the
// other half.
type Scenario string

const (
	ScenarioDeploy   Scenario = "deploy"
	ScenarioModify   Scenario = "modify"
	ScenarioDestroy  Scenario = "destroy"
	ScenarioRollback Scenario = "rollback"
	ScenarioPurge    Scenario = "purge"
)

// OrderType returns the order type tracked for this scenario.
func (s Scenario) OrderType() OrderType {
	switch s {
	case ScenarioModify:
		return OrderTypeModify
	case ScenarioDestroy:
		return OrderTypeDestroy
	case ScenarioRollback:
		return OrderTypeRollback
	case ScenarioPurge:
		return OrderTypePurge
	default:
		return OrderTypeDeploy
	}
}

// DeployTask is the unit of work handed to the external IaC executor.
// The call is fire-and-forget; the executor reports back through the
// webhook identified by ServiceID and Scenario.
type DeployTask struct {
	OrderID   uuid.UUID
	ServiceID uuid.UUID
	Scenario  Scenario

	ServiceTemplateID uuid.UUID
	Region            string
	FlavorName        string

	// Properties are the deployment variables from the request.
	Properties map[string]string
}

// DeploymentExecutorClient submits provisioning intent to the external
// IaC executor. Implementations must return quickly; results arrive
// asynchronously through callback ingestion.
type DeploymentExecutorClient interface {
	SubmitDeploy(ctx context.Context, task DeployTask) error
	SubmitModify(ctx context.Context, task DeployTask) error
	SubmitDestroy(ctx context.Context, task DeployTask) error
	SubmitRollback(ctx context.Context, task DeployTask) error
	SubmitPurge(ctx context.Context, task DeployTask) error
}

// PowerRequest is one runtime power action against the VM resources of
// a deployed service.
type PowerRequest struct {
	OrderID   uuid.UUID
	ServiceID uuid.UUID
	Region    string

	// VMs is the non-empty VM-kind resource list of the service.
	VMs []DeployResource
}

// PowerStateClient manages the runtime power state of provisioned
// compute resources directly against the provider API. Implementations
// either perform a synchronous action call or submit a batch job and
// poll it to a terminal state; either way the call blocks the worker
// goroutine, never the admitting request.
type PowerStateClient interface {
	Start(ctx context.Context, req PowerRequest) error
	Stop(ctx context.Context, req PowerRequest) error
	Restart(ctx context.Context, req PowerRequest) error
}

// ProviderRegistry resolves the per-csp client implementations. It is
// an explicit table constructed at process startup and passed into the
// orchestration core.
type ProviderRegistry interface {
	// Deployer returns the IaC executor client for a csp, or a
	// PluginNotFound error.
	Deployer(csp Csp) (DeploymentExecutorClient, error)

	// PowerState returns the power-state client for a csp, or a
	// PluginNotFound error.
	PowerState(csp Csp) (PowerStateClient, error)
}
