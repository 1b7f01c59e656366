package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/stores"
)

var (
	owner = orchestrator.Identity{UserID: "user-1"}
	other = orchestrator.Identity{UserID: "user-2"}
	admin = orchestrator.Identity{UserID: "root", Roles: []string{"admin"}}
)

// fakeExecutor records submitted tasks and optionally fails scenarios.
type fakeExecutor struct {
	mu    sync.Mutex
	tasks []orchestrator.DeployTask
	fail  map[orchestrator.Scenario]error
}

func (f *fakeExecutor) submit(task orchestrator.DeployTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return f.fail[task.Scenario]
}

func (f *fakeExecutor) SubmitDeploy(_ context.Context, t orchestrator.DeployTask) error {
	return f.submit(t)
}

func (f *fakeExecutor) SubmitModify(_ context.Context, t orchestrator.DeployTask) error {
	return f.submit(t)
}

func (f *fakeExecutor) SubmitDestroy(_ context.Context, t orchestrator.DeployTask) error {
	return f.submit(t)
}

func (f *fakeExecutor) SubmitRollback(_ context.Context, t orchestrator.DeployTask) error {
	return f.submit(t)
}

func (f *fakeExecutor) SubmitPurge(_ context.Context, t orchestrator.DeployTask) error {
	return f.submit(t)
}

func (f *fakeExecutor) failScenario(s orchestrator.Scenario, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[orchestrator.Scenario]error{}
	}
	f.fail[s] = err
}

func (f *fakeExecutor) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeExecutor) lastTask(t *testing.T) orchestrator.DeployTask {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) == 0 {
		t.Fatal("no tasks were submitted to the executor")
	}
	return f.tasks[len(f.tasks)-1]
}

// fakePower records power actions and optionally fails them.
type fakePower struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakePower) act(action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	return f.err
}

func (f *fakePower) Start(_ context.Context, _ orchestrator.PowerRequest) error {
	return f.act("start")
}

func (f *fakePower) Stop(_ context.Context, _ orchestrator.PowerRequest) error {
	return f.act("stop")
}

func (f *fakePower) Restart(_ context.Context, _ orchestrator.PowerRequest) error {
	return f.act("restart")
}

func (f *fakePower) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePower) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeRegistry hands out the same fakes for every csp.
type fakeRegistry struct {
	executor orchestrator.DeploymentExecutorClient
	power    orchestrator.PowerStateClient
}

func (r *fakeRegistry) Deployer(csp orchestrator.Csp) (orchestrator.DeploymentExecutorClient, error) {
	if r.executor == nil {
		return nil, orchestrator.NewPluginNotFound(csp)
	}
	return r.executor, nil
}

func (r *fakeRegistry) PowerState(csp orchestrator.Csp) (orchestrator.PowerStateClient, error) {
	if r.power == nil {
		return nil, orchestrator.NewPluginNotFound(csp)
	}
	return r.power, nil
}

type testEnv struct {
	engine   *orchestrator.Engine
	store    *stores.SQLiteStore
	executor *fakeExecutor
	power    *fakePower
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	executor := &fakeExecutor{}
	power := &fakePower{}
	engine := orchestrator.NewEngine(orchestrator.EngineConfig{
		Store:           store,
		Registry:        &fakeRegistry{executor: executor, power: power},
		Workers:         2,
		PollInterval:    5 * time.Millisecond,
		CallbackBaseURL: "http://localhost:8080",
	})
	t.Cleanup(engine.Shutdown)

	return &testEnv{engine: engine, store: store, executor: executor, power: power}
}

func testDeployRequest() orchestrator.DeployRequest {
	return orchestrator.DeployRequest{
		Csp:               orchestrator.CspHuaweiCloud,
		Region:            "cn-southwest-2",
		Category:          "middleware",
		FlavorName:        "3-node",
		ServiceTemplateID: uuid.New(),
		Properties:        map[string]string{"admin_passwd": "s3cret"},
	}
}

func testResources() []orchestrator.DeployResource {
	return []orchestrator.DeployResource{
		{ResourceID: "i-0a1", ResourceName: "kafka-0", ResourceKind: orchestrator.ResourceKindVM, GroupName: "kafka-broker"},
		{ResourceID: "i-0a2", ResourceName: "zk-0", ResourceKind: orchestrator.ResourceKindVM, GroupName: "zookeeper"},
		{ResourceID: "vpc-1", ResourceName: "net", ResourceKind: orchestrator.ResourceKindVPC},
	}
}

// deployService runs a full deploy including the success callback and
// returns the provisioned service id.
func (env *testEnv) deployService(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	order, err := env.engine.Deploy(ctx, testDeployRequest(), owner)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	err = env.engine.IngestCallback(ctx, order.ServiceID, orchestrator.ScenarioDeploy, orchestrator.CallbackPayload{
		Success:   true,
		Resources: testResources(),
	})
	if err != nil {
		t.Fatalf("deploy callback failed: %v", err)
	}
	return order.ServiceID
}

func (env *testEnv) getService(t *testing.T, id uuid.UUID) *orchestrator.ServiceDeployment {
	t.Helper()
	svc, err := env.store.GetServiceDeployment(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load service %s: %v", id, err)
	}
	return svc
}

func (env *testEnv) getOrder(t *testing.T, id uuid.UUID) *orchestrator.Order {
	t.Helper()
	order, err := env.store.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load order %s: %v", id, err)
	}
	return order
}

// waitForOrderTerminal polls until the order reaches a terminal status.
func (env *testEnv) waitForOrderTerminal(t *testing.T, orderID uuid.UUID) *orchestrator.Order {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		order, err := env.store.GetOrder(context.Background(), orderID)
		if err != nil {
			t.Fatalf("failed to load order %s: %v", orderID, err)
		}
		if order.Status.IsTerminal() {
			return order
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached a terminal status", orderID)
	return nil
}

func expectKind(t *testing.T, err error, kind orchestrator.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if !orchestrator.IsKind(err, kind) {
		t.Fatalf("expected %s error, got: %v", kind, err)
	}
}
