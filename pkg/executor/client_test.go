package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

func testTask(scenario orchestrator.Scenario) orchestrator.DeployTask {
	return orchestrator.DeployTask{
		OrderID:           uuid.New(),
		ServiceID:         uuid.New(),
		Scenario:          scenario,
		ServiceTemplateID: uuid.New(),
		Region:            "cn-southwest-2",
		FlavorName:        "3-node",
		Properties:        map[string]string{"admin_passwd": "s3cret"},
	}
}

func TestSubmitDeploy(t *testing.T) {
	var received taskBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tasks/deploy" {
			t.Errorf("path = %s, want /v1/tasks/deploy", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer exec-token" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("bad task body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL:         srv.URL,
		CallbackBaseURL: "http://stratus:8080",
		AuthToken:       "exec-token",
	}, nil)

	task := testTask(orchestrator.ScenarioDeploy)
	if err := client.SubmitDeploy(context.Background(), task); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if received.RequestID != task.OrderID.String() {
		t.Errorf("request id = %s, want the order id", received.RequestID)
	}
	if received.Flavor != "3-node" {
		t.Errorf("flavor = %s, want 3-node", received.Flavor)
	}
	if received.Variables["admin_passwd"] != "s3cret" {
		t.Error("deployment variables were not forwarded")
	}
	wantWebhook := "http://stratus:8080/webhook/tofu/deploy/" + task.ServiceID.String()
	if received.WebhookURL != wantWebhook {
		t.Errorf("webhook = %s, want %s", received.WebhookURL, wantWebhook)
	}
}

func TestSubmitRoutesPerScenario(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, CallbackBaseURL: "http://stratus:8080"}, nil)
	ctx := context.Background()

	if err := client.SubmitModify(ctx, testTask(orchestrator.ScenarioModify)); err != nil {
		t.Fatalf("modify failed: %v", err)
	}
	if err := client.SubmitDestroy(ctx, testTask(orchestrator.ScenarioDestroy)); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if err := client.SubmitRollback(ctx, testTask(orchestrator.ScenarioRollback)); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if err := client.SubmitPurge(ctx, testTask(orchestrator.ScenarioPurge)); err != nil {
		t.Fatalf("purge failed: %v", err)
	}

	want := []string{"/v1/tasks/modify", "/v1/tasks/destroy", "/v1/tasks/rollback", "/v1/tasks/purge"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestSubmitRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "unknown template"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, CallbackBaseURL: "http://stratus:8080"}, nil)
	err := client.SubmitDeploy(context.Background(), testTask(orchestrator.ScenarioDeploy))
	if err == nil {
		t.Fatal("expected the rejection to surface")
	}
	if !strings.Contains(err.Error(), "unknown template") {
		t.Errorf("error = %v, want the executor response included", err)
	}
}

func TestSubmitRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL:         srv.URL,
		CallbackBaseURL: "http://stratus:8080",
		RetryCount:      2,
	}, nil)

	if err := client.SubmitDeploy(context.Background(), testTask(orchestrator.ScenarioDeploy)); err != nil {
		t.Fatalf("submit failed despite retry: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}
