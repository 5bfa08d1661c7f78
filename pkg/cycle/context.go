package cycle

import "context"

type cycleKey struct{}

func newContext(ctx context.Context, c *Cycle) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, cycleKey{}, c)
}

// FromContext returns the cycle carried by ctx.
func FromContext(ctx context.Context) (*Cycle, bool) {
	c, ok := ctx.Value(cycleKey{}).(*Cycle)
	return c, ok
}
