package ports

import (
	"context"
	"tether/internal/types"
)

// Refresher performs one call against the refresh endpoint.
// The returned credential MAY carry an empty RefreshToken when the server does
// not rotate refresh tokens; callers keep the previous one in that case.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (types.Credential, error)
}
