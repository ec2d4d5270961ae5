package memory

import (
	"context"
	"testing"
	"tether/internal/types"

	"github.com/stretchr/testify/require"
)

func TestCredentialStoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewCredentialStore()

	cred, err := s.Get(ctx)
	require.NoError(t, err)
	require.True(t, cred.IsZero())

	require.NoError(t, s.Set(ctx, types.Credential{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, s.Set(ctx, types.Credential{AccessToken: "a2", RefreshToken: "r2"}))
	cred, err = s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, types.Credential{AccessToken: "a2", RefreshToken: "r2"}, cred)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	cred, err = s.Get(ctx)
	require.NoError(t, err)
	require.True(t, cred.IsZero())
}
