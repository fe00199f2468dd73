// Package transport carries Signal K traffic over its two surfaces: a
// stateless REST transport for request/response calls and a WebSocket
// stream transport for server pushed telemetry.
//
// Both transports share a single Session, the one source of truth for
// the bearer token and the selected API major version. The client
// orchestrator owns the Session and fans writes out through it, so the
// two transports can never hold divergent copies of that state.
package transport
