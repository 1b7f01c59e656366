// Package huaweicloud manages the runtime power state of ECS instances
// through the Huawei Cloud batch-action API. Actions are asynchronous
// on the provider side: a batch job is submitted for all VMs of the
// service and polled with backoff until it reaches a terminal state.
package huaweicloud

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Config holds the Huawei Cloud ECS endpoint settings.
type Config struct {
	// Endpoint is the ECS API root, e.g. "https://ecs.myhuaweicloud.com".
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// AuthToken is the X-Auth-Token for the ECS API.
	AuthToken string `yaml:"authToken"`

	// Timeout bounds one HTTP round trip.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is the initial job poll interval. Doubles on each
	// attempt up to 30s.
	PollInterval time.Duration `yaml:"pollInterval"`

	// MaxPollAttempts bounds job polling. The job may still finish on
	// the provider side after polling gives up; the action is reported
	// failed either way.
	MaxPollAttempts int `yaml:"maxPollAttempts"`
}

// PowerClient implements orchestrator.PowerStateClient against the ECS
// batch-action API.
type PowerClient struct {
	http         *resty.Client
	pollInterval time.Duration
	maxAttempts  int
	log          *telemetry.Logger
}

// NewPowerClient creates a Huawei Cloud power-state client.
func NewPowerClient(cfg Config, log *telemetry.Logger) *PowerClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 60
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
		http:         http,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxPollAttempts,
		log:          log.NewComponentLogger("huaweicloud-power"),
	}
}

// batchActionBody is the ECS batch action wire format.
type batchActionBody struct {
	OsStart *serverList `json:"os-start,omitempty"`
	OsStop  *serverList `json:"os-stop,omitempty"`
	Reboot  *serverList `json:"reboot,omitempty"`
}

type serverList struct {
	Type    string     `json:"type,omitempty"`
	Servers []serverID `json:"servers"`
}

type serverID struct {
	ID string `json:"id"`
}

type jobResponse struct {
	JobID string `json:"job_id"`
}

type jobStatus struct {
	Status     string `json:"status"`
	FailReason string `json:"fail_reason"`
}

// Start powers all VMs of the request on.
func (c *PowerClient) Start(ctx context.Context, req orchestrator.PowerRequest) error {
	return c.batchAction(ctx, req, "os-start")
}

// Stop powers all VMs of the request off (soft stop).
func (c *PowerClient) Stop(ctx context.Context, req orchestrator.PowerRequest) error {
	return c.batchAction(ctx, req, "os-stop")
}

// Restart soft-reboots all VMs of the request.
func (c *PowerClient) Restart(ctx context.Context, req orchestrator.PowerRequest) error {
	return c.batchAction(ctx, req, "reboot")
}

func (c *PowerClient) batchAction(ctx context.Context, req orchestrator.PowerRequest, action string) error {
	servers := make([]serverID, len(req.VMs))
	for i, vm := range req.VMs {
		servers[i] = serverID{ID: vm.ResourceID}
	}

	var body batchActionBody
	switch action {
	case "os-stop":
		body.OsStop = &serverList{Type: "SOFT", Servers: servers}
	case "reboot":
		body.Reboot = &serverList{Type: "SOFT", Servers: servers}
	default:
		body.OsStart = &serverList{Servers: servers}
	}

	var job jobResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&job).
		ForceContentType("application/json").
		Post(fmt.Sprintf("/v1/%s/cloudservers/action", req.Region))
	if err != nil {
		return fmt.Errorf("ecs %s submission failed: %w", action, err)
	}
	if resp.IsError() {
		return fmt.Errorf("ecs %s rejected: %s: %s", action, resp.Status(), resp.String())
	}
	if job.JobID == "" {
		return fmt.Errorf("ecs %s returned no job id", action)
	}

	c.log.WithServiceID(req.ServiceID.String()).
		WithField("action", action).
		WithField("job_id", job.JobID).
		Debug("batch power job submitted")

	return c.awaitJob(ctx, req.Region, job.JobID)
}

// awaitJob polls a batch job with doubling backoff until it reaches a
// terminal state or the attempt budget runs out.
func (c *PowerClient) awaitJob(ctx context.Context, region, jobID string) error {
	interval := c.pollInterval

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if interval < 30*time.Second {
			interval *= 2
		}

		var status jobStatus
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&status).
			ForceContentType("application/json").
			Get(fmt.Sprintf("/v1/%s/jobs/%s", region, jobID))
		if err != nil {
			// Transient poll failures count against the budget.
			continue
		}
		if resp.IsError() {
			return fmt.Errorf("ecs job query rejected: %s: %s", resp.Status(), resp.String())
		}

		switch status.Status {
		case "SUCCESS":
			return nil
		case "FAIL":
			return fmt.Errorf("ecs job %s failed: %s", jobID, status.FailReason)
		}
	}

	return fmt.Errorf("ecs job %s did not finish within the polling budget", jobID)
}
