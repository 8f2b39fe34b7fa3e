package rpc

import (
	"context"
)

type callInfoKey struct{}

// CallInfo describes the inbound call a handler is serving.
type CallInfo struct {
	Method  string
	Channel uint32
	Stream  bool
}

func NewContextWithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

func GetCallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	v := ctx.Value(callInfoKey{})
	if v != nil {
		info, ok := v.(CallInfo)
		if ok {
			return info, true
		}
	}
	return CallInfo{}, false
}
