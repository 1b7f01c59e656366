// Package config loads and validates the Stratus service configuration
// from a YAML file.
//
// Configuration is declarative: one file describes the API server, the
// order ledger database, the IaC executor endpoint, the per-cloud
// provider credentials and the telemetry stack. Missing values fall
// back to defaults suitable for local development; validation rejects
// configurations the service could not run with.
//
// A running service can watch its configuration file and receive reload
// callbacks on change; which settings apply without a restart is up to
// the caller.
package config
