// Package openstack manages the runtime power state of Nova servers.
// Nova server actions acknowledge synchronously, so the client fires
// one action call per VM and reports the aggregate outcome.
package openstack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Config holds the Nova endpoint settings.
type Config struct {
	// Endpoint is the Nova API root, e.g. "https://nova.example:8774/v2.1".
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// AuthToken is the keystone token for the compute API.
	AuthToken string `yaml:"authToken"`

	// Timeout bounds one HTTP round trip.
	Timeout time.Duration `yaml:"timeout"`
}

// PowerClient implements orchestrator.PowerStateClient with synchronous
// Nova server actions.
type PowerClient struct {
	http *resty.Client
	log  *telemetry.Logger
}

// NewPowerClient creates an OpenStack power-state client.
func NewPowerClient(cfg Config, log *telemetry.Logger) *PowerClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = telemetry.NopLogger()
	}

	http := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		http.SetHeader("X-Auth-Token", cfg.AuthToken)
	}

	return &PowerClient{
		http: http,
		log:  log.NewComponentLogger("openstack-power"),
	}
}

// Start powers all VMs of the request on.
func (c *PowerClient) Start(ctx context.Context, req orchestrator.PowerRequest) error {
	return c.serverAction(ctx, req, map[string]any{"os-start": nil})
}

// Stop powers all VMs of the request off.
func (c *PowerClient) Stop(ctx context.Context, req orchestrator.PowerRequest) error {
	return c.serverAction(ctx, req, map[string]any{"os-stop": nil})
}

// Restart soft-reboots all VMs of the request.
func (c *PowerClient) Restart(ctx context.Context, req orchestrator.PowerRequest) error {
	return c.serverAction(ctx, req, map[string]any{"reboot": map[string]string{"type": "SOFT"}})
}

// serverAction fires the action at every VM. All VMs are attempted even
// when one fails; failures are aggregated.
func (c *PowerClient) serverAction(ctx context.Context, req orchestrator.PowerRequest, body map[string]any) error {
	var errs []error
	for _, vm := range req.VMs {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			Post(fmt.Sprintf("/servers/%s/action", vm.ResourceID))
		if err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", vm.ResourceID, err))
			continue
		}
		if resp.IsError() {
			errs = append(errs, fmt.Errorf("server %s: %s: %s", vm.ResourceID, resp.Status(), resp.String()))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.log.WithServiceID(req.ServiceID.String()).
		WithField("servers", len(req.VMs)).
		Debug("server action applied")
	return nil
}
