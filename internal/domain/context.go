package domain

import "context"

type ctxKey string

const requestCtxKey ctxKey = "request"

// ContextWithRequest returns a new context carrying the request context of
// the invocation. Tools read it to attribute actions to the requesting user.
func ContextWithRequest(ctx context.Context, req RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey, req)
}

// RequestFromContext extracts the request context.
// The second return value is false if none is set.
func RequestFromContext(ctx context.Context) (RequestContext, bool) {
	req, ok := ctx.Value(requestCtxKey).(RequestContext)
	return req, ok
}
