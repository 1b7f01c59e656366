package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

// deployRequest is the body of POST /v1/services/deploy.
type deployRequest struct {
	Csp               string            `json:"csp" validate:"required,oneof=HuaweiCloud Openstack"`
	Region            string            `json:"region" validate:"required"`
	Category          string            `json:"category"`
	FlavorName        string            `json:"flavorName" validate:"required"`
	ServiceTemplateID uuid.UUID         `json:"serviceTemplateId" validate:"required"`
	Properties        map[string]string `json:"properties"`
	LockConfig        lockRequest       `json:"lockConfig"`
}

func (r deployRequest) toEngine() orchestrator.DeployRequest {
	return orchestrator.DeployRequest{
		Csp:               orchestrator.Csp(r.Csp),
		Region:            r.Region,
		Category:          r.Category,
		FlavorName:        r.FlavorName,
		ServiceTemplateID: r.ServiceTemplateID,
		Properties:        r.Properties,
		LockConfig: orchestrator.LockConfig{
			DestroyLocked: r.LockConfig.DestroyLocked,
			ModifyLocked:  r.LockConfig.ModifyLocked,
		},
	}
}

// modifyRequest is the body of PUT /v1/services/modify/{serviceId}.
type modifyRequest struct {
	FlavorName string            `json:"flavorName"`
	Properties map[string]string `json:"properties"`
}

// lockRequest is the body of PUT /v1/services/lock/{serviceId}.
type lockRequest struct {
	DestroyLocked bool `json:"destroyLocked"`
	ModifyLocked  bool `json:"modifyLocked"`
}

// replacementRequest is the body of the migration and porting
// endpoints: the service to replace plus the deployment request of its
// replacement.
type replacementRequest struct {
	OriginalServiceID uuid.UUID     `json:"originalServiceId" validate:"required"`
	DeployRequest     deployRequest `json:"deployRequest" validate:"required"`
}

// configureRequest is the body of PUT /v1/services/config/{serviceId}.
type configureRequest struct {
	Properties map[string]string `json:"properties" validate:"required,min=1"`
}

// configResultRequest is the body agents report per-group configuration
// outcomes with.
type configResultRequest struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// orderResponse acknowledges an admitted asynchronous operation.
type orderResponse struct {
	OrderID   uuid.UUID `json:"orderId"`
	ServiceID uuid.UUID `json:"serviceId"`
}

// workflowResponse acknowledges an admitted composite operation.
type workflowResponse struct {
	WorkflowID        uuid.UUID `json:"workflowId"`
	OriginalServiceID uuid.UUID `json:"originalServiceId"`
	NewServiceID      uuid.UUID `json:"newServiceId"`
}

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
