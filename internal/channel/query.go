package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/streamweave/gqlsub/internal/connection"
	"github.com/streamweave/gqlsub/internal/protocol"
)

var errWaitCancelled = errors.New("wait cancelled")

// Query performs one synchronous request/response exchange on the shared
// connection: connection_init, start, exactly one reply returned verbatim,
// then stop and its acknowledgement. Transport failures propagate to the
// caller; no reconnection happens here. Callers must not interleave Query
// with an active subscription on the same channel.
func (c *Channel) Query(ctx context.Context, query string, variables map[string]any, headers map[string]string) (json.RawMessage, error) {
	conn := c.currentConn()

	init, err := protocol.EncodeConnectionInit(headers, "")
	if err != nil {
		return nil, err
	}
	if err := conn.Send(init); err != nil {
		return nil, fmt.Errorf("send connection_init: %w", err)
	}

	// One reply, the ack; discarded.
	if _, err := awaitReply(ctx, conn); err != nil {
		return nil, err
	}

	id := protocol.NewOperationID()
	start, err := protocol.EncodeStart(id, headers, query, variables)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(start); err != nil {
		return nil, fmt.Errorf("send start: %w", err)
	}

	reply, err := awaitReply(ctx, conn)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	switch reply.Type {
	case protocol.TypeError:
		err = &ServerError{ID: reply.ID, Payload: reply.Payload}
	default:
		result = reply.Payload
	}

	stop, encErr := protocol.EncodeStop(id)
	if encErr != nil {
		return nil, encErr
	}
	if sendErr := conn.Send(stop); sendErr != nil {
		return nil, fmt.Errorf("send stop: %w", sendErr)
	}

	// Block for the stop acknowledgement before returning.
	if _, ackErr := awaitReply(ctx, conn); ackErr != nil && err == nil {
		err = ackErr
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// awaitReply blocks for the next decoded frame, honoring the context.
func awaitReply(ctx context.Context, conn connection.Client) (protocol.Frame, error) {
	frame, err := awaitFrame(conn, ctx.Done())
	if errors.Is(err, errWaitCancelled) {
		return protocol.Frame{}, ctx.Err()
	}
	return frame, err
}

// awaitFrame blocks for the next non-keep-alive frame on conn. A transport
// error or an undecodable frame surfaces as an error; done aborts the wait.
// Frames buffered ahead of a transport error are consumed first.
func awaitFrame(conn connection.Client, done <-chan struct{}) (protocol.Frame, error) {
	for {
		var raw []byte

		select {
		case raw = <-conn.Frames():
		default:
			select {
			case <-done:
				return protocol.Frame{}, errWaitCancelled
			case err := <-conn.Errors():
				return protocol.Frame{}, err
			case raw = <-conn.Frames():
			}
		}

		frame, err := protocol.Decode(raw)
		if err != nil {
			return protocol.Frame{}, err
		}
		if frame.Type == protocol.TypeKeepAlive {
			continue
		}
		return frame, nil
	}
}
