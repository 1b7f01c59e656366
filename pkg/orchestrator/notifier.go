package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusPoll is the snapshot returned to a long-polling status client.
type StatusPoll struct {
	ServiceID        uuid.UUID       `json:"serviceId"`
	DeploymentState  DeploymentState `json:"deploymentState"`
	IsOrderCompleted bool            `json:"isOrderCompleted"`
	ResultMessage    string          `json:"resultMessage,omitempty"`
}

// AwaitStateChange blocks until the deployment state differs from the
// client's last known state or maxWait elapses. A state that is already
// terminal is returned immediately even when it matches the client's
// last known state, since no further transition will arrive without a
// new order. On timeout the current snapshot is returned so clients can
// re-poll with fresh knowledge.
func (e *Engine) AwaitStateChange(ctx context.Context, serviceID uuid.UUID, lastState DeploymentState, maxWait time.Duration) (*StatusPoll, error) {
	started := time.Now()
	defer func() { e.metrics.ObserveLongPoll(time.Since(started)) }()

	timeout := time.NewTimer(maxWait)
	defer timeout.Stop()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		svc, err := e.store.GetServiceDeployment(ctx, serviceID)
		if err != nil {
			// A purge mid-poll removes the record; the not-found error
			// is the change notification in that case.
			return nil, err
		}

		poll := &StatusPoll{
			ServiceID:        serviceID,
			DeploymentState:  svc.DeploymentState,
			IsOrderCompleted: !svc.DeploymentState.IsInFlight(),
			ResultMessage:    svc.ResultMessage,
		}
		if svc.DeploymentState != lastState || !svc.DeploymentState.IsInFlight() {
			return poll, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return poll, nil
		case <-ticker.C:
		}
	}
}
