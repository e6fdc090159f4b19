// Package channel implements the subscription channel: a client that keeps
// one persistent WebSocket connection to a GraphQL server and speaks the
// legacy Apollo "graphql-ws" protocol.
//
// A Channel supports two modes on the shared connection:
//   - Query: one synchronous init/start/stop exchange returning one result
//   - Subscribe: a long-lived server-pushed stream delivered to a callback
//     from a dedicated background worker
//
// The worker recovers from closed connections with bounded, backed-off
// reconnects and replays the original subscription handshake. The single
// connection is shared between Query and an active subscription; callers are
// responsible for not interleaving the two (frame-level correlation across
// concurrent consumers is out of scope).
package channel
