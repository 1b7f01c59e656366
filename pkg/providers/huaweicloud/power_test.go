package huaweicloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

func testRequest() orchestrator.PowerRequest {
	return orchestrator.PowerRequest{
		OrderID:   uuid.New(),
		ServiceID: uuid.New(),
		Region:    "cn-southwest-2",
		VMs: []orchestrator.DeployResource{
			{ResourceID: "vm-1", ResourceKind: orchestrator.ResourceKindVM},
			{ResourceID: "vm-2", ResourceKind: orchestrator.ResourceKindVM},
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, handler http.Handler) *PowerClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPowerClient(Config{
		Endpoint:        srv.URL,
		AuthToken:       "test-token",
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	}, nil)
}

func TestStartSubmitsBatchJobAndPolls(t *testing.T) {
	var polls atomic.Int32

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/cn-southwest-2/cloudservers/action":
			if got := r.Header.Get("X-Auth-Token"); got != "test-token" {
				t.Errorf("auth token = %q", got)
			}
			var body map[string]json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("bad action body: %v", err)
			}
			raw, ok := body["os-start"]
			if !ok {
				t.Fatalf("action body = %v, want os-start", body)
			}
			var list struct {
				Servers []struct {
					ID string `json:"id"`
				} `json:"servers"`
			}
			if err := json.Unmarshal(raw, &list); err != nil {
				t.Fatalf("bad server list: %v", err)
			}
			if len(list.Servers) != 2 {
				t.Errorf("servers = %d, want 2", len(list.Servers))
			}
			writeJSON(w, map[string]string{"job_id": "job-42"})

		case r.Method == http.MethodGet && r.URL.Path == "/v1/cn-southwest-2/jobs/job-42":
			// Running on the first poll, done on the second.
			status := "SUCCESS"
			if polls.Add(1) == 1 {
				status = "RUNNING"
			}
			writeJSON(w, map[string]string{"status": status})

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	if err := client.Start(context.Background(), testRequest()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if polls.Load() < 2 {
		t.Errorf("polls = %d, want at least 2", polls.Load())
	}
}

func TestStopUsesSoftStop(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cloudservers/action") {
			var body map[string]json.RawMessage
			json.NewDecoder(r.Body).Decode(&body)
			raw, ok := body["os-stop"]
			if !ok {
				t.Fatalf("action body = %v, want os-stop", body)
			}
			if !strings.Contains(string(raw), `"SOFT"`) {
				t.Errorf("stop list = %s, want SOFT type", raw)
			}
			writeJSON(w, map[string]string{"job_id": "job-1"})
			return
		}
		writeJSON(w, map[string]string{"status": "SUCCESS"})
	}))

	if err := client.Stop(context.Background(), testRequest()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestFailedJobReportsReason(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cloudservers/action") {
			writeJSON(w, map[string]string{"job_id": "job-9"})
			return
		}
		writeJSON(w, map[string]string{"status": "FAIL", "fail_reason": "instance in error state"})
	}))

	err := client.Restart(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected the failed job to surface")
	}
	if !strings.Contains(err.Error(), "instance in error state") {
		t.Errorf("error = %v, want the provider fail reason", err)
	}
}

func TestPollingBudgetExhausted(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cloudservers/action") {
			writeJSON(w, map[string]string{"job_id": "job-7"})
			return
		}
		writeJSON(w, map[string]string{"status": "RUNNING"})
	}))

	err := client.Start(context.Background(), testRequest())
	if err == nil || !strings.Contains(err.Error(), "polling budget") {
		t.Fatalf("error = %v, want a polling budget failure", err)
	}
}

func TestRejectedSubmission(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
	}))

	if err := client.Start(context.Background(), testRequest()); err == nil {
		t.Fatal("expected the rejected submission to surface")
	}
}

func TestContextCancellationStopsPolling(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cloudservers/action") {
			writeJSON(w, map[string]string{"job_id": "job-3"})
			return
		}
		writeJSON(w, map[string]string{"status": "RUNNING"})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Start(ctx, testRequest())
	if err == nil {
		t.Fatal("expected a context error")
	}
}
