// Package orchestrator implements the service lifecycle orchestration
// core: the deployment state machine, the order ledger with its
// single-in-flight-order invariant, asynchronous callback ingestion,
// the workflow composer for composite operations (migrate, port,
// recreate), the runtime power-state controller and the long-poll
// status notifier.
//
// The core is a stateless request-handling layer over a transactionally
// consistent store; all concurrency correctness derives from
// store-visible invariants, not in-process locks. Deployment state only
// ever advances as the terminal effect of a completed order.
package orchestrator
