// Package providers holds the per-cloud plugin table and the plugin
// implementations. Deployment provisioning always flows through the
// external IaC executor; power-state management talks to the provider
// compute API directly, either with a synchronous action call
// (OpenStack) or by submitting a batch job and polling it to a terminal
// state (Huawei Cloud).
package providers
