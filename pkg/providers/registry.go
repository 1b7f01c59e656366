package providers

import (
	"sort"
	"sync"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

// Registry is the explicit csp to plugin table. It implements
// orchestrator.ProviderRegistry. Registration happens once at startup;
// lookups are concurrent.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// deployers maps csp to the IaC executor client used for it.
	deployers map[orchestrator.Csp]orchestrator.DeploymentExecutorClient

	// power maps csp to its power-state client.
	power map[orchestrator.Csp]orchestrator.PowerStateClient
}

// NewRegistry creates an empty plugin table.
func NewRegistry() *Registry {
	return &Registry{
		deployers: make(map[orchestrator.Csp]orchestrator.DeploymentExecutorClient),
		power:     make(map[orchestrator.Csp]orchestrator.PowerStateClient),
	}
}

// RegisterDeployer binds the IaC executor client for a csp.
func (r *Registry) RegisterDeployer(csp orchestrator.Csp, client orchestrator.DeploymentExecutorClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployers[csp] = client
}

// RegisterPowerState binds the power-state client for a csp.
func (r *Registry) RegisterPowerState(csp orchestrator.Csp, client orchestrator.PowerStateClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.power[csp] = client
}

// Deployer returns the IaC executor client for a csp.
func (r *Registry) Deployer(csp orchestrator.Csp) (orchestrator.DeploymentExecutorClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.deployers[csp]
	if !exists {
		return nil, orchestrator.NewPluginNotFound(csp)
	}
	return client, nil
}

// PowerState returns the power-state client for a csp.
func (r *Registry) PowerState(csp orchestrator.Csp) (orchestrator.PowerStateClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.power[csp]
	if !exists {
		return nil, orchestrator.NewPluginNotFound(csp)
	}
	return client, nil
}

// Csps lists the providers with a registered deployer, sorted.
func (r *Registry) Csps() []orchestrator.Csp {
	r.mu.RLock()
	defer r.mu.RUnlock()

	csps := make([]orchestrator.Csp, 0, len(r.deployers))
	for csp := range r.deployers {
		csps = append(csps, csp)
	}
	sort.Slice(csps, func(i, j int) bool { return csps[i] < csps[j] })
	return csps
}
