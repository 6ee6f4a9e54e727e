package wire

import (
	"context"
	"encoding/json"
	"fmt"
)

// Loopback invokes a Handler in process. Arguments and results still go
// through JSON so callers see exactly what a socket client would.
type Loopback struct {
	Handler Handler
}

func (l Loopback) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	payload, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := Dispatch(ctx, l.Handler, Request{ID: "loopback", Command: command, Args: payload})
	if !resp.OK {
		if resp.Fault == nil {
			return nil, fmt.Errorf("%s failed", command)
		}
		return nil, resp.Fault
	}
	return resp.Result, nil
}
