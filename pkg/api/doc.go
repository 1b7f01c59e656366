// Package api exposes the orchestration engine over HTTP: the service
// lifecycle endpoints, the order ledger queries, the long-poll status
// endpoint and the executor callback webhook.
//
// Authentication is delegated to the outer gateway, which injects the
// requester identity as headers; the API trusts them and enforces
// ownership and roles per request. All mutating lifecycle endpoints
// respond 202 with the order tracking the asynchronous work.
package api
