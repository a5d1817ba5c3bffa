package auditctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	//nolint:staticcheck // nil context is tolerated on purpose
	ctx := WithActor(nil, Actor{UserID: "u1", OrganizationID: "org", IPAddress: "10.0.0.1"})
	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "u1", actor.UserID)
	require.Equal(t, "org", actor.OrganizationID)
	require.Equal(t, "10.0.0.1", actor.IPAddress)
}
