package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind classifies an orchestration failure for HTTP mapping and
// programmatic handling.
type ErrorKind string

const (
	// ErrServiceNotFound indicates the referenced service does not exist.
	ErrServiceNotFound ErrorKind = "ServiceNotFound"

	// ErrOrderNotFound indicates the referenced order does not exist.
	ErrOrderNotFound ErrorKind = "OrderNotFound"

	// ErrServiceLocked indicates the relevant lock flag blocked admission.
	ErrServiceLocked ErrorKind = "ServiceLocked"

	// ErrAccessDenied indicates the requester is not the owner and holds
	// no administrative role.
	ErrAccessDenied ErrorKind = "AccessDenied"

	// ErrInvalidState indicates the current deployment or service state
	// is incompatible with the requested operation. This also covers
	// "another order is in flight" and "no VM resources to manage".
	ErrInvalidState ErrorKind = "InvalidStateForOperation"

	// ErrPluginNotFound indicates the service's csp has no registered
	// provider plugin.
	ErrPluginNotFound ErrorKind = "PluginNotFound"

	// ErrCallbackCorrelation indicates a callback could not be matched
	// to an in-flight order.
	ErrCallbackCorrelation ErrorKind = "CallbackCorrelationFailed"
)

// ServiceError is a classified orchestration error carrying the entity
// context needed for structured responses and logging.
type ServiceError struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is the human-readable description.
	Message string

	// ServiceID is the affected service, if known.
	ServiceID uuid.UUID

	// OrderID is the affected order, if known.
	OrderID uuid.UUID

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.ServiceID != uuid.Nil {
		return fmt.Sprintf("[%s] %s (service=%s)", e.Kind, e.Message, e.ServiceID)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches ServiceErrors by kind.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithService attaches the service id to the error.
func (e *ServiceError) WithService(id uuid.UUID) *ServiceError {
	e.ServiceID = id
	return e
}

// WithOrder attaches the order id to the error.
func (e *ServiceError) WithOrder(id uuid.UUID) *ServiceError {
	e.OrderID = id
	return e
}

// NewServiceNotFound creates a ServiceNotFound error.
func NewServiceNotFound(id uuid.UUID) *ServiceError {
	return &ServiceError{
		Kind:      ErrServiceNotFound,
		Message:   "service not found",
		ServiceID: id,
	}
}

// NewOrderNotFound creates an OrderNotFound error.
func NewOrderNotFound(id uuid.UUID) *ServiceError {
	return &ServiceError{
		Kind:    ErrOrderNotFound,
		Message: "order not found",
		OrderID: id,
	}
}

// NewServiceLocked creates a ServiceLocked error.
func NewServiceLocked(id uuid.UUID, op OrderType) *ServiceError {
	return &ServiceError{
		Kind:      ErrServiceLocked,
		Message:   fmt.Sprintf("service is locked for operation %s", op),
		ServiceID: id,
	}
}

// NewAccessDenied creates an AccessDenied error.
func NewAccessDenied(id uuid.UUID, userID string) *ServiceError {
	return &ServiceError{
		Kind:      ErrAccessDenied,
		Message:   fmt.Sprintf("user %s is not permitted to manage this service", userID),
		ServiceID: id,
	}
}

// NewInvalidState creates an InvalidStateForOperation error.
func NewInvalidState(id uuid.UUID, format string, args ...any) *ServiceError {
	return &ServiceError{
		Kind:      ErrInvalidState,
		Message:   fmt.Sprintf(format, args...),
		ServiceID: id,
	}
}

// NewPluginNotFound creates a PluginNotFound error.
func NewPluginNotFound(csp Csp) *ServiceError {
	return &ServiceError{
		Kind:    ErrPluginNotFound,
		Message: fmt.Sprintf("no plugin registered for csp %s", csp),
	}
}

// NewCallbackCorrelationFailed creates a CallbackCorrelationFailed error.
func NewCallbackCorrelationFailed(serviceID uuid.UUID, detail string) *ServiceError {
	return &ServiceError{
		Kind:      ErrCallbackCorrelation,
		Message:   detail,
		ServiceID: serviceID,
	}
}

// KindOf extracts the error kind from an error chain. It returns an
// empty kind for non-orchestration errors.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
