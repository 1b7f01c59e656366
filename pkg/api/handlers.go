package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

// pathUUID parses a UUID path variable. A parse failure writes the 400
// response and returns false.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeBadRequest(w, name+" is not a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes and validates a JSON request body.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "request body is not valid JSON: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeBadRequest(w, "request validation failed: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Time: time.Now().UTC()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: time.Now().UTC()})
}

// Lifecycle handlers

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	order, err := s.engine.Deploy(r.Context(), req.toEngine(), identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, orderResponse{OrderID: order.ID, ServiceID: order.ServiceID})
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}
	var req modifyRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	order, err := s.engine.Modify(r.Context(), serviceID, orchestrator.ModifyRequest{
		FlavorName: req.FlavorName,
		Properties: req.Properties,
	}, identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, orderResponse{OrderID: order.ID, ServiceID: order.ServiceID})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}

	order, err := s.engine.Destroy(r.Context(), serviceID, identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, orderResponse{OrderID: order.ID, ServiceID: order.ServiceID})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}

	order, err := s.engine.Purge(r.Context(), serviceID, identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, orderResponse{OrderID: order.ID, ServiceID: order.ServiceID})
}

func (s *Server) handleSetLocks(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}
	var req lockRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	err := s.engine.SetLocks(r.Context(), serviceID, orchestrator.LockConfig{
		DestroyLocked: req.DestroyLocked,
		ModifyLocked:  req.ModifyLocked,
	}, identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// Composite workflow handlers

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	s.handleReplacement(w, r, s.engine.Migrate)
}

func (s *Server) handlePort(w http.ResponseWriter, r *http.Request) {
	s.handleReplacement(w, r, s.engine.Port)
}

func (s *Server) handleReplacement(w http.ResponseWriter, r *http.Request, start func(ctx context.Context, serviceID uuid.UUID, req orchestrator.DeployRequest, who orchestrator.Identity) (*orchestrator.Workflow, error)) {
	var req replacementRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	wf, err := start(r.Context(), req.OriginalServiceID, req.DeployRequest.toEngine(), identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, workflowResponse{
		WorkflowID:        wf.ID,
		OriginalServiceID: wf.OriginalServiceID,
		NewServiceID:      wf.NewServiceID,
	})
}

func (s *Server) handleRecreate(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}

	wf, err := s.engine.Recreate(r.Context(), serviceID, identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, workflowResponse{
		WorkflowID:        wf.ID,
		OriginalServiceID: wf.OriginalServiceID,
		NewServiceID:      wf.NewServiceID,
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := pathUUID(w, r, "workflowId")
	if !ok {
		return
	}

	wf, err := s.engine.Store().GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowOrders(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := pathUUID(w, r, "workflowId")
	if !ok {
		return
	}

	orders, err := s.engine.Store().ListOrdersByWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// Power-state handlers

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handlePower(w, r, s.engine.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.handlePower(w, r, s.engine.Stop)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.handlePower(w, r, s.engine.Restart)
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, serviceID uuid.UUID, who orchestrator.Identity) (*orchestrator.Order, error)) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}

	order, err := action(r.Context(), serviceID, identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, orderResponse{OrderID: order.ID, ServiceID: order.ServiceID})
}

// Configuration handlers

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}
	var req configureRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	order, err := s.engine.Configure(r.Context(), serviceID, req.Properties, identityFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, orderResponse{OrderID: order.ID, ServiceID: order.ServiceID})
}

func (s *Server) handleListConfigRequests(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	reqs, err := s.engine.Store().ListConfigRequestsByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleConfigResult(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}
	requestID, ok := pathUUID(w, r, "requestId")
	if !ok {
		return
	}
	var req configResultRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.engine.CompleteConfigRequest(r.Context(), orderID, requestID, req.Success, req.Message); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// Query handlers

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.engine.Store().ListServiceDeployments(r.Context(), identityFrom(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}

	svc, err := s.engine.Store().GetServiceDeployment(r.Context(), serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.authorizeRead(svc, r); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// handleStatusPoll is the long-poll status endpoint. The request blocks
// until the deployment state moves past lastKnownDeploymentState or the
// wait budget elapses.
func (s *Server) handleStatusPoll(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}

	if !s.authorizeServiceAccess(w, r, serviceID) {
		return
	}

	lastState := orchestrator.DeploymentState(r.URL.Query().Get("lastKnownDeploymentState"))

	maxWait := s.cfg.LongPollMaxWait
	if raw := r.URL.Query().Get("waitTimeSeconds"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			writeBadRequest(w, "waitTimeSeconds must be a positive integer")
			return
		}
		if wait := time.Duration(seconds) * time.Second; wait < maxWait {
			maxWait = wait
		}
	}

	poll, err := s.engine.AwaitStateChange(r.Context(), serviceID, lastState, maxWait)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poll)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}
	if !s.authorizeServiceAccess(w, r, serviceID) {
		return
	}

	orders, err := s.engine.Store().ListOrdersByService(r.Context(), serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleDeleteOrders(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}
	if !s.authorizeServiceAccess(w, r, serviceID) {
		return
	}

	if err := s.engine.Store().DeleteOrdersByService(r.Context(), serviceID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	order, err := s.engine.Store().GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	who := identityFrom(r)
	if order.OwnerID != who.UserID && !who.IsAdmin() {
		writeError(w, orchestrator.NewAccessDenied(order.ServiceID, who.UserID))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	order, err := s.engine.Store().GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	who := identityFrom(r)
	if order.OwnerID != who.UserID && !who.IsAdmin() {
		writeError(w, orchestrator.NewAccessDenied(order.ServiceID, who.UserID))
		return
	}
	if !order.Status.IsTerminal() {
		writeError(w, orchestrator.NewInvalidState(order.ServiceID, "order %s is still in flight", order.ID))
		return
	}

	if err := s.engine.Store().DeleteOrder(r.Context(), orderID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// Webhook

// handleCallback ingests a deployment result from the executor. A body
// that cannot be parsed still finalizes the order as failed: the
// executor will not send the result again.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}

	scenario := orchestrator.Scenario(mux.Vars(r)["scenario"])
	switch scenario {
	case orchestrator.ScenarioDeploy, orchestrator.ScenarioModify,
		orchestrator.ScenarioDestroy, orchestrator.ScenarioRollback,
		orchestrator.ScenarioPurge:
	default:
		writeBadRequest(w, "unknown callback scenario")
		return
	}

	var payload orchestrator.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		payload = orchestrator.CallbackPayload{
			Success:      false,
			ErrorMessage: "callback payload could not be parsed: " + err.Error(),
		}
	}

	if err := s.engine.IngestCallback(r.Context(), serviceID, scenario, payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// authorizeRead rejects reads of foreign services.
func (s *Server) authorizeRead(svc *orchestrator.ServiceDeployment, r *http.Request) error {
	who := identityFrom(r)
	if svc.OwnerID == who.UserID || who.IsAdmin() {
		return nil
	}
	return orchestrator.NewAccessDenied(svc.ID, who.UserID)
}

// authorizeServiceAccess loads the service and enforces read access,
// writing the error response itself.
func (s *Server) authorizeServiceAccess(w http.ResponseWriter, r *http.Request, serviceID uuid.UUID) bool {
	svc, err := s.engine.Store().GetServiceDeployment(r.Context(), serviceID)
	if err != nil {
		writeError(w, err)
		return false
	}
	if err := s.authorizeRead(svc, r); err != nil {
		writeError(w, err)
		return false
	}
	return true
}
