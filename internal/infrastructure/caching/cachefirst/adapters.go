package cachefirst

import "context"

// Deref adapts a durable finder returning a pointer to a Family.Load.
func Deref[T any](find func(ctx context.Context, id string) (*T, error)) func(context.Context, string) (T, error) {
	return func(ctx context.Context, id string) (T, error) {
		v, err := find(ctx, id)
		if err != nil || v == nil {
			var zero T
			return zero, err
		}
		return *v, nil
	}
}

// DerefAll adapts a durable list query to an Index.Load.
func DerefAll[T any](find func(ctx context.Context, value string) ([]*T, error)) func(context.Context, string) ([]T, error) {
	return func(ctx context.Context, value string) ([]T, error) {
		vs, err := find(ctx, value)
		if err != nil {
			return nil, err
		}
		out := make([]T, 0, len(vs))
		for _, v := range vs {
			if v != nil {
				out = append(out, *v)
			}
		}
		return out, nil
	}
}

// Single adapts a lookup that yields at most one entity, such as a session by
// token, to an Index.Load.
func Single[T any](find func(ctx context.Context, value string) (*T, error), notFound func(error) bool) func(context.Context, string) ([]T, error) {
	return func(ctx context.Context, value string) ([]T, error) {
		v, err := find(ctx, value)
		if err != nil {
			if notFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return []T{*v}, nil
	}
}
