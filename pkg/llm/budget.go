package llm

import (
	"context"
	"sync/atomic"
)

type callCounterKey struct{}

// WithCallCounter tallies every Call made under the returned context into n.
// The worker attaches one counter per message so max_llm_calls_per_message is
// enforced against that message's calls only, not the process-wide total.
func WithCallCounter(ctx context.Context, n *atomic.Int64) context.Context {
	return context.WithValue(ctx, callCounterKey{}, n)
}

// CountCall records one attempted call against the context's counter, if any.
// Every Client implementation calls it once per Call.
func CountCall(ctx context.Context) {
	if n, ok := ctx.Value(callCounterKey{}).(*atomic.Int64); ok {
		n.Add(1)
	}
}
