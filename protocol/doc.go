// Package protocol implements the parsing and building of payloads for
// the Signal K protocol that keel uses to talk to marine data servers.
//
// Signal K is a JSON protocol with two surfaces:
//
// - a REST API rooted at `/signalk/<version>/api/`
// - a WebSocket stream advertised by the discovery document
//
// === Message kinds
//
// The server never labels its stream messages with an explicit type tag,
// so inbound frames are classified structurally, by which fields they
// carry:
//
// - `Hello` - the first frame on a stream. Carries both a `version` and
//             a `self` field. A `startTime` field marks the stream as a
//             playback of historical data rather than live telemetry.
// - `Response` - a reply to a client request, correlated by `requestId`.
//                A login response nests the session token under
//                `login.token`.
// - `Delta` - an incremental update for a single context (usually a
//             vessel), carrying a `context` field and a list of
//             path/value updates.
//
// Anything else is unclassified and passed through as-is.
//
// Classification is a priority cascade: Hello and Response detection run
// before Delta, so a frame carrying `version`, `self` and `context` is a
// Hello, not a Delta.
//
// === Client envelopes
//
// Outbound messages are built from envelope skeletons that the caller
// fills in:
//
//	{"context": null, "updates": []}      - updates
//	{"context": null, "subscribe": []}    - subscribe
//	{"context": null, "unsubscribe": []}  - unsubscribe
//	{"requestId": "<uuid>"}               - request
//
// A request envelope always carries a freshly generated version 4 UUID
// so the caller can correlate the eventual Response frame.
//
// === Paths
//
// Signal K addresses data with dotted paths ("navigation.position").
// The REST API wants them slash separated, so DotToSlash converts
// between the two, leaving any query string suffix untouched.
package protocol
