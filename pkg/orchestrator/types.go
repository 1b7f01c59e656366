package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// Csp identifies a cloud service provider.
type Csp string

const (
	// CspHuaweiCloud is Huawei Cloud.
	CspHuaweiCloud Csp = "HuaweiCloud"

	// CspOpenstack is an OpenStack-based cloud.
	CspOpenstack Csp = "Openstack"
)

// DeploymentState is the IaC provisioning lifecycle state of a service.
// It is the single source of truth for the deployment lifecycle and is
// only ever advanced as the terminal effect of a completed order.
type DeploymentState string

const (
	DeploymentStateDeploying              DeploymentState = "DEPLOYING"
	DeploymentStateDeploySuccess          DeploymentState = "DEPLOY_SUCCESS"
	DeploymentStateDeployFailed           DeploymentState = "DEPLOY_FAILED"
	DeploymentStateDestroying             DeploymentState = "DESTROYING"
	DeploymentStateDestroySuccess         DeploymentState = "DESTROY_SUCCESS"
	DeploymentStateDestroyFailed          DeploymentState = "DESTROY_FAILED"
	DeploymentStateManualCleanupRequired  DeploymentState = "MANUAL_CLEANUP_REQUIRED"
	DeploymentStateModifying              DeploymentState = "MODIFYING"
	DeploymentStateModificationSuccessful DeploymentState = "MODIFICATION_SUCCESSFUL"
	DeploymentStateModificationFailed     DeploymentState = "MODIFICATION_FAILED"
	DeploymentStatePurging                DeploymentState = "PURGING"
	DeploymentStateRollingBack            DeploymentState = "ROLLING_BACK"
)

// IsInFlight returns true while the external executor owns the service.
func (s DeploymentState) IsInFlight() bool {
	switch s {
	case DeploymentStateDeploying, DeploymentStateDestroying,
		DeploymentStateModifying, DeploymentStatePurging,
		DeploymentStateRollingBack:
		return true
	}
	return false
}

// IsDeployed returns true for states in which cloud resources are live
// and runtime power operations are meaningful.
func (s DeploymentState) IsDeployed() bool {
	switch s {
	case DeploymentStateDeploySuccess, DeploymentStateModificationSuccessful,
		DeploymentStateModificationFailed:
		return true
	}
	return false
}

// ServiceState is the runtime power state of the provisioned compute
// resources, independent of the deployment lifecycle.
type ServiceState string

const (
	ServiceStateNotRunning ServiceState = "NOT_RUNNING"
	ServiceStateStarting   ServiceState = "STARTING"
	ServiceStateRunning    ServiceState = "RUNNING"
	ServiceStateStopping   ServiceState = "STOPPING"
	ServiceStateStopped    ServiceState = "STOPPED"
	ServiceStateRestarting ServiceState = "RESTARTING"
)

// IsTransitional returns true while a power action is in progress.
func (s ServiceState) IsTransitional() bool {
	return s == ServiceStateStarting || s == ServiceStateStopping || s == ServiceStateRestarting
}

// OrderType identifies the kind of mutating operation an order tracks.
type OrderType string

const (
	OrderTypeDeploy    OrderType = "DEPLOY"
	OrderTypeDestroy   OrderType = "DESTROY"
	OrderTypeModify    OrderType = "MODIFY"
	OrderTypeConfigure OrderType = "CONFIGURE"
	OrderTypeMigrate   OrderType = "MIGRATE"
	OrderTypePort      OrderType = "PORT"
	OrderTypeRecreate  OrderType = "RECREATE"
	OrderTypeStart     OrderType = "START"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeRestart   OrderType = "RESTART"
	OrderTypePurge     OrderType = "PURGE"
	OrderTypeRollback  OrderType = "ROLLBACK"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusSuccessful OrderStatus = "SUCCESSFUL"
	OrderStatusFailed     OrderStatus = "FAILED"
)

// IsTerminal returns true once an order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusSuccessful || s == OrderStatusFailed
}

// ResourceKind classifies a provisioned cloud object.
type ResourceKind string

const (
	ResourceKindVM                ResourceKind = "VM"
	ResourceKindContainer         ResourceKind = "CONTAINER"
	ResourceKindPublicIP          ResourceKind = "PUBLIC_IP"
	ResourceKindVPC               ResourceKind = "VPC"
	ResourceKindSubnet            ResourceKind = "SUBNET"
	ResourceKindVolume            ResourceKind = "VOLUME"
	ResourceKindSecurityGroup     ResourceKind = "SECURITY_GROUP"
	ResourceKindSecurityGroupRule ResourceKind = "SECURITY_GROUP_RULE"
	ResourceKindKeypair           ResourceKind = "KEYPAIR"
	ResourceKindUnknown           ResourceKind = "UNKNOWN"
)

// LockConfig guards a service against destructive or modifying
// operations. A set flag rejects the corresponding operations at
// admission time.
type LockConfig struct {
	// DestroyLocked blocks DESTROY, PURGE, MIGRATE, PORT and RECREATE.
	DestroyLocked bool `json:"destroyLocked"`

	// ModifyLocked blocks MODIFY, CONFIGURE, MIGRATE, PORT and RECREATE.
	ModifyLocked bool `json:"modifyLocked"`
}

// ServiceDeployment is one logical deployed service instance.
type ServiceDeployment struct {
	// ID is the unique service identifier.
	ID uuid.UUID `json:"id"`

	// OwnerID identifies the user that owns the service.
	OwnerID string `json:"ownerId"`

	// Csp is the cloud provider the service is deployed on.
	Csp Csp `json:"csp"`

	// Region is the provider region.
	Region string `json:"region"`

	// Category is the service category (e.g. "middleware").
	Category string `json:"category"`

	// FlavorName is the selected service flavor.
	FlavorName string `json:"flavorName"`

	// ServiceTemplateID references the catalog template the service was
	// deployed from. Template handling itself is a collaborator concern.
	ServiceTemplateID uuid.UUID `json:"serviceTemplateId"`

	// DeploymentState is the IaC lifecycle state.
	DeploymentState DeploymentState `json:"deploymentState"`

	// ServiceState is the runtime power state. It is only meaningful
	// once DeploymentState is a stable post-deploy state.
	ServiceState ServiceState `json:"serviceState"`

	// LockConfig holds the destroy/modify locks.
	LockConfig LockConfig `json:"lockConfig"`

	// Resources is the current provisioned resource inventory. It is
	// replaced wholesale on each successful deploy/modify callback.
	Resources []DeployResource `json:"resources,omitempty"`

	// ResultMessage carries the outcome of the last completed operation.
	ResultMessage string `json:"resultMessage,omitempty"`

	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

// VMResources returns the subset of the inventory that represents
// compute instances manageable by power-state operations.
func (d *ServiceDeployment) VMResources() []DeployResource {
	var vms []DeployResource
	for _, r := range d.Resources {
		if r.ResourceKind == ResourceKindVM {
			vms = append(vms, r)
		}
	}
	return vms
}

// DeployResource is one provisioned cloud object belonging to a service.
type DeployResource struct {
	// ID is the unique record identifier.
	ID uuid.UUID `json:"id"`

	// ServiceID is the owning service.
	ServiceID uuid.UUID `json:"serviceId"`

	// ResourceID is the provider-assigned identifier.
	ResourceID string `json:"resourceId"`

	// ResourceName is the provider-visible name.
	ResourceName string `json:"resourceName,omitempty"`

	// ResourceKind classifies the cloud object.
	ResourceKind ResourceKind `json:"resourceKind"`

	// GroupName distinguishes resource groups of multi-tier services
	// (e.g. "zookeeper" vs "kafka-broker").
	GroupName string `json:"groupName,omitempty"`

	// GroupType is the template-declared type of the group.
	GroupType string `json:"groupType,omitempty"`

	// Properties holds provider-reported attributes of the resource.
	Properties map[string]string `json:"properties,omitempty"`
}

// Order is one tracked mutating operation against a service. Orders are
// immutable once terminal.
type Order struct {
	// ID is the order identifier, also used to correlate executor
	// callbacks together with the service id.
	ID uuid.UUID `json:"orderId"`

	// ServiceID is the service the order operates on.
	ServiceID uuid.UUID `json:"serviceId"`

	// OwnerID is the user that requested the operation.
	OwnerID string `json:"ownerId"`

	// Type is the operation kind.
	Type OrderType `json:"type"`

	// Status is the order lifecycle status.
	Status OrderStatus `json:"status"`

	// WorkflowID groups orders belonging to one composite operation.
	WorkflowID *uuid.UUID `json:"workflowId,omitempty"`

	// RequestSnapshot is the serialized original request body.
	RequestSnapshot string `json:"requestSnapshot,omitempty"`

	// ResultMessage carries the terminal outcome description.
	ResultMessage string `json:"resultMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// WorkflowType identifies a composite user-facing operation.
type WorkflowType string

const (
	WorkflowTypeMigrate  WorkflowType = "MIGRATE"
	WorkflowTypePort     WorkflowType = "PORT"
	WorkflowTypeRecreate WorkflowType = "RECREATE"
)

// WorkflowStatus is the aggregate status of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowStatusSuccessful WorkflowStatus = "SUCCESSFUL"
	WorkflowStatusFailed     WorkflowStatus = "FAILED"
)

// Workflow is a logical grouping of orders implementing one composite
// operation such as a migration. Member orders execute strictly
// sequentially; the first failing member halts the remaining steps.
type Workflow struct {
	ID     uuid.UUID      `json:"workflowId"`
	Type   WorkflowType   `json:"type"`
	Status WorkflowStatus `json:"status"`

	// OriginalServiceID is the service the workflow started from.
	OriginalServiceID uuid.UUID `json:"originalServiceId"`

	// NewServiceID is the replacement service for migrate/port.
	NewServiceID uuid.UUID `json:"newServiceId"`

	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConfigRequestStatus is the status of one per-group configuration
// update request.
type ConfigRequestStatus string

const (
	ConfigRequestStatusPending ConfigRequestStatus = "PENDING"
	ConfigRequestStatusApplied ConfigRequestStatus = "APPLIED"
	ConfigRequestStatusFailed  ConfigRequestStatus = "FAILED"
)

// ServiceConfigurationUpdateRequest is the fan-out of one CONFIGURE
// order into one request per resource group.
type ServiceConfigurationUpdateRequest struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"orderId"`
	ServiceID uuid.UUID `json:"serviceId"`

	// GroupName is the resource group this request targets.
	GroupName string `json:"groupName"`

	// Properties is the group-scoped configuration subset.
	Properties map[string]string `json:"properties"`

	Status        ConfigRequestStatus `json:"status"`
	ResultMessage string              `json:"resultMessage,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	CompletedAt   *time.Time          `json:"completedAt,omitempty"`
}

// Identity describes the authenticated requester as supplied by the
// outer gateway. Admin roles bypass the ownership check.
type Identity struct {
	UserID string
	Roles  []string
}

// IsAdmin reports whether the identity carries an administrative role.
func (i Identity) IsAdmin() bool {
	for _, r := range i.Roles {
		if r == "admin" || r == "csp-admin" {
			return true
		}
	}
	return false
}
