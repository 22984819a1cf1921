package dkim

import "context"

type contextKey string

const traceKey contextKey = "trace"

// TraceFunc receives a printf-style line for every notable decision the
// verifier makes: key lookups and the records returned, the headers
// hashed, and why a check failed. Tag parsing is not traced. It is meant
// for -v style debugging output, not for machine consumption.
type TraceFunc func(f string, a ...interface{})

// WithTraceFunc attaches a TraceFunc to ctx. FetchKey, Check and VerifyAll
// call it, when present, as they work.
func WithTraceFunc(ctx context.Context, t TraceFunc) context.Context {
	return context.WithValue(ctx, traceKey, t)
}

func trace(ctx context.Context, f string, args ...interface{}) {
	t, ok := ctx.Value(traceKey).(TraceFunc)
	if !ok {
		return
	}
	t(f, args...)
}

const maxHeadersKey contextKey = "maxHeaders"

// WithMaxHeaders caps how many DKIM-Signature headers VerifyAll will
// evaluate, protecting against a message with an unreasonable number of
// signatures (https://datatracker.ietf.org/doc/html/rfc6376#section-8.4).
func WithMaxHeaders(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, maxHeadersKey, n)
}

func maxHeaders(ctx context.Context) int {
	n, ok := ctx.Value(maxHeadersKey).(int)
	if !ok {
		// Arbitrarily chosen default, may be adjusted in the future.
		return 5
	}
	return n
}
