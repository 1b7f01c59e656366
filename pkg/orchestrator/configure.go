package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Configure admits a CONFIGURE order and fans it out into one pending
// request per resource group. Agents running inside the service pick
// the requests up and report per-group outcomes; the order completes
// once every group reported.
func (e *Engine) Configure(ctx context.Context, serviceID uuid.UUID, properties map[string]string, who Identity) (*Order, error) {
	svc, order, err := e.admitOperation(ctx, serviceID, OrderTypeConfigure, who, marshalSnapshot(properties))
	if err != nil {
		return nil, err
	}

	groups := resourceGroups(svc.Resources)
	if len(groups) == 0 {
		cause := NewInvalidState(serviceID, "service has no resource groups to configure")
		if _, cerr := e.store.CompleteOrder(ctx, order.ID, OrderStatusFailed, cause.Error()); cerr != nil {
			e.log.WithError(cerr).WithOrderID(order.ID.String()).Error("failed to complete configure order")
		} else {
			e.metrics.RecordOrderCompleted(string(OrderTypeConfigure), string(OrderStatusFailed), time.Since(order.CreatedAt))
			_ = e.events.PublishOrderCompleted(serviceID.String(), order.ID.String(), string(OrderTypeConfigure), string(OrderStatusFailed))
		}
		return nil, cause
	}

	now := time.Now().UTC()
	reqs := make([]ServiceConfigurationUpdateRequest, 0, len(groups))
	for _, group := range groups {
		reqs = append(reqs, ServiceConfigurationUpdateRequest{
			ID:         uuid.New(),
			OrderID:    order.ID,
			ServiceID:  serviceID,
			GroupName:  group,
			Properties: groupScopedProperties(group, properties),
			Status:     ConfigRequestStatusPending,
			CreatedAt:  now,
		})
	}
	if err := e.store.CreateConfigRequests(ctx, reqs); err != nil {
		return nil, err
	}
	if err := e.store.MarkOrderInProgress(ctx, order.ID); err != nil {
		return nil, err
	}

	e.log.WithServiceID(serviceID.String()).
		WithOrderID(order.ID.String()).
		WithField("groups", groups).
		Info("configuration change fanned out")
	return order, nil
}

// CompleteConfigRequest records the outcome one group reported and
// completes the CONFIGURE order once no group is pending. Any failed
// group fails the whole order. The request must belong to the order;
// a mismatched pair would otherwise complete a foreign order's group.
func (e *Engine) CompleteConfigRequest(ctx context.Context, orderID, requestID uuid.UUID, success bool, message string) error {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	owned, err := e.store.ListConfigRequestsByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	found := false
	for _, r := range owned {
		if r.ID == requestID {
			found = true
			break
		}
	}
	if !found {
		return NewCallbackCorrelationFailed(order.ServiceID,
			fmt.Sprintf("config request %s does not belong to order %s", requestID, orderID))
	}

	status := ConfigRequestStatusApplied
	if !success {
		status = ConfigRequestStatusFailed
	}
	if err := e.store.CompleteConfigRequest(ctx, requestID, status, message); err != nil {
		return err
	}
	e.metrics.RecordConfigRequest(string(status))

	reqs, err := e.store.ListConfigRequestsByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	var failures []string
	for _, r := range reqs {
		switch r.Status {
		case ConfigRequestStatusPending:
			return nil
		case ConfigRequestStatusFailed:
			failures = append(failures, r.GroupName+": "+r.ResultMessage)
		}
	}

	orderStatus := OrderStatusSuccessful
	resultMessage := ""
	if len(failures) > 0 {
		orderStatus = OrderStatusFailed
		resultMessage = strings.Join(failures, "; ")
	}

	applied, err := e.store.CompleteOrder(ctx, orderID, orderStatus, resultMessage)
	if err != nil {
		return err
	}
	if applied {
		e.metrics.RecordOrderCompleted(string(order.Type), string(orderStatus), time.Since(order.CreatedAt))
		_ = e.events.PublishOrderCompleted(order.ServiceID.String(), orderID.String(), string(order.Type), string(orderStatus))
		e.log.WithOrderID(orderID.String()).
			WithField("status", orderStatus).
			Info("configuration change completed")
	}
	return nil
}

// resourceGroups returns the distinct non-empty group names of the
// inventory in a stable order.
func resourceGroups(resources []DeployResource) []string {
	seen := map[string]bool{}
	for _, r := range resources {
		if r.GroupName != "" {
			seen[r.GroupName] = true
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// groupScopedProperties selects the properties addressed to one group.
// Keys prefixed "<group>." target that group with the prefix stripped;
// unprefixed keys apply to every group.
func groupScopedProperties(group string, properties map[string]string) map[string]string {
	out := make(map[string]string)
	prefix := group + "."
	for k, v := range properties {
		switch {
		case strings.HasPrefix(k, prefix):
			out[strings.TrimPrefix(k, prefix)] = v
		case !strings.Contains(k, "."):
			out[k] = v
		}
	}
	return out
}
