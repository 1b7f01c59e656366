// Package executor is the HTTP client for the external IaC executor
// service that runs Terraform/OpenTofu on behalf of the orchestration
// engine. Submissions are fire-and-forget: the executor acknowledges
// the task and later reports the result through the engine's webhook,
// addressed by service id and scenario.
package executor
