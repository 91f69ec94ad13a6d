package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/nvrapi"
)

// Authenticator refreshes NVR credentials. *nvrapi.Client satisfies it.
type Authenticator interface {
	Login(ctx context.Context) error
}

// WithAuthRefresh runs fn. If fn fails with nvrapi.ErrAuth it logs in once
// and runs fn again.
//
// Returns:
//   - error: ErrFatal (also matching nvrapi.ErrAuth) when the login or the
//     second attempt is rejected; any other error from Login or fn unchanged
func WithAuthRefresh[T any](ctx context.Context, auth Authenticator, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !errors.Is(err, nvrapi.ErrAuth) || auth == nil {
		return v, err
	}

	var zero T
	if err := auth.Login(ctx); err != nil {
		if errors.Is(err, nvrapi.ErrAuth) {
			return zero, fmt.Errorf("%w: login: %w", ErrFatal, err)
		}
		return zero, err
	}

	v, err = fn(ctx)
	if err != nil && errors.Is(err, nvrapi.ErrAuth) {
		return zero, fmt.Errorf("%w: after refresh: %w", ErrFatal, err)
	}
	return v, err
}
