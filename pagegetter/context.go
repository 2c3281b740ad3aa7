package pagegetter

import "context"

type contextKey struct{}

// NewContext returns a context carrying pg, for plugin callables that
// declare plugin.Flags.WantsPageGetter and need to fetch pages themselves
// (original_source/awspider/plugin.py's self.getPage, bound to the
// worker's shared Page Getter instance).
func NewContext(ctx context.Context, pg *PageGetter) context.Context {
	return context.WithValue(ctx, contextKey{}, pg)
}

// FromContext retrieves the Page Getter NewContext stored, if any.
func FromContext(ctx context.Context) (*PageGetter, bool) {
	pg, ok := ctx.Value(contextKey{}).(*PageGetter)
	return pg, ok
}
