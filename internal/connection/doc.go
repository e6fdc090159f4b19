// Package connection implements the Connection Manager component.
//
// A Client owns one WebSocket connection dialed under the "graphql-ws"
// subprotocol. It records the connection's creation timestamp, serializes
// writes, and funnels every inbound message through a single read goroutine
// into the Frames channel. Consumers never touch the socket handle directly;
// reconnection policy lives a layer up, in the subscription loop.
package connection
