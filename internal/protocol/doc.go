// Package protocol implements the Protocol Codec component.
//
// The codec speaks the legacy Apollo subscription protocol carried over
// the "graphql-ws" WebSocket subprotocol:
//   - Encodes the three outbound frame kinds (connection_init, start, stop)
//   - Classifies inbound frames (connection_ack, ka, data, error, complete)
//   - Generates short correlation ids linking start/stop frames to the
//     server's data/error/complete frames
//
// Keep-alive filtering is left to consumers: the query path and the
// subscription loop apply different policies.
package protocol
