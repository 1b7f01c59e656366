package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Config holds the executor endpoint settings.
type Config struct {
	// BaseURL is the executor API root, e.g. "http://tofu-runner:9090".
	BaseURL string `yaml:"baseUrl" validate:"required,url"`

	// CallbackBaseURL is the externally reachable URL prefix of this
	// engine's webhook, handed to the executor with every task.
	CallbackBaseURL string `yaml:"callbackBaseUrl" validate:"required,url"`

	// Timeout bounds one submission round trip.
	Timeout time.Duration `yaml:"timeout"`

	// RetryCount retries failed submissions with backoff. Retrying a
	// submission is safe: the executor dedupes on the request id.
	RetryCount int `yaml:"retryCount"`

	// AuthToken is sent as a bearer token when set.
	AuthToken string `yaml:"authToken"`
}

// Client submits IaC tasks to the executor over HTTP. It implements
// orchestrator.DeploymentExecutorClient.
type Client struct {
	http         *resty.Client
	callbackBase string
	log          *telemetry.Logger
}

// taskBody is the wire format of one executor submission.
type taskBody struct {
	RequestID         string            `json:"requestId"`
	ServiceID         string            `json:"serviceId"`
	ServiceTemplateID string            `json:"serviceTemplateId"`
	Region            string            `json:"region"`
	Flavor            string            `json:"flavor"`
	Variables         map[string]string `json:"variables,omitempty"`
	WebhookURL        string            `json:"webhookUrl"`
}

// NewClient creates an executor client.
func NewClient(cfg Config, log *telemetry.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = telemetry.NopLogger()
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Resty retries transport errors only by default; a 5xx from
			// the executor is just as transient.
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		http.SetAuthToken(cfg.AuthToken)
	}

	return &Client{
		http:         http,
		callbackBase: cfg.CallbackBaseURL,
		log:          log.NewComponentLogger("executor-client"),
	}
}

// SubmitDeploy hands a fresh deployment to the executor.
func (c *Client) SubmitDeploy(ctx context.Context, task orchestrator.DeployTask) error {
	return c.submit(ctx, task)
}

// SubmitModify hands an update of an existing deployment to the executor.
func (c *Client) SubmitModify(ctx context.Context, task orchestrator.DeployTask) error {
	return c.submit(ctx, task)
}

// SubmitDestroy hands a teardown to the executor.
func (c *Client) SubmitDestroy(ctx context.Context, task orchestrator.DeployTask) error {
	return c.submit(ctx, task)
}

// SubmitRollback hands the teardown of a failed deployment to the
// executor.
func (c *Client) SubmitRollback(ctx context.Context, task orchestrator.DeployTask) error {
	return c.submit(ctx, task)
}

// SubmitPurge hands the final cleanup of a service to the executor.
func (c *Client) SubmitPurge(ctx context.Context, task orchestrator.DeployTask) error {
	return c.submit(ctx, task)
}

func (c *Client) submit(ctx context.Context, task orchestrator.DeployTask) error {
	scenario := string(task.Scenario)
	body := taskBody{
		RequestID:         task.OrderID.String(),
		ServiceID:         task.ServiceID.String(),
		ServiceTemplateID: task.ServiceTemplateID.String(),
		Region:            task.Region,
		Flavor:            task.FlavorName,
		Variables:         task.Properties,
		WebhookURL:        fmt.Sprintf("%s/webhook/tofu/%s/%s", c.callbackBase, scenario, task.ServiceID),
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/v1/tasks/" + scenario)
	if err != nil {
		return fmt.Errorf("executor submission failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("executor rejected %s task: %s: %s", scenario, resp.Status(), resp.String())
	}

	c.log.WithServiceID(task.ServiceID.String()).
		WithOrderID(task.OrderID.String()).
		WithField("scenario", scenario).
		Debug("task accepted by executor")
	return nil
}
