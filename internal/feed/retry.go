package feed

import "context"

// RetryPolicy is the two-step policy used by feed routes: the first
// attempt runs as requested, the second with a reduced page size and
// replies and reposts filtered out.
type RetryPolicy struct {
	ReducedLimit int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{ReducedLimit: 5}
}

// Reduce returns the options of the second attempt.
func (p RetryPolicy) Reduce(opts RenderOptions) RenderOptions {
	reduced := p.ReducedLimit
	if reduced <= 0 {
		reduced = DefaultRetryPolicy().ReducedLimit
	}
	opts.Limit = min(ClampLimit(opts.Limit), reduced)
	opts.SkipReplies = true
	opts.SkipReposts = true
	return opts
}

// Run returns the first successful page or the result of the last attempt.
func (p RetryPolicy) Run(ctx context.Context, opts RenderOptions, attempt func(context.Context, RenderOptions) Rendered) Rendered {
	first := attempt(ctx, opts)
	if !first.Failed || ctx.Err() != nil {
		return first
	}
	return attempt(ctx, p.Reduce(opts))
}

// GetRenderedFeedWithRetry runs GetRenderedFeed under policy.
func (f *Fetcher) GetRenderedFeedWithRetry(ctx context.Context, handle string, opts RenderOptions, policy RetryPolicy) Rendered {
	return policy.Run(ctx, opts, func(ctx context.Context, o RenderOptions) Rendered {
		return f.GetRenderedFeed(ctx, handle, o)
	})
}
