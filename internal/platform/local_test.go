package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conjurehq/conjure/pkg/types"
)

func okHandler(msg string) InvokeFunc {
	return func(ctx context.Context, inv types.Invocation) types.ExecutionOutcome {
		return types.ExecutionOutcome{Status: types.OutcomeSuccess, Message: msg}
	}
}

func TestLocalDispatcherRoundTrip(t *testing.T) {
	d := NewLocalDispatcher()
	ctx := context.Background()

	require.NoError(t, d.RegisterDispatch(ctx, "t1", "ping", "replies pong", okHandler("pong")))

	outcome, err := d.Dispatch(ctx, types.Invocation{Tenant: "t1", Command: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", outcome.Message)

	require.NoError(t, d.RemoveDispatch(ctx, "t1", "ping"))
	_, err = d.Dispatch(ctx, types.Invocation{Tenant: "t1", Command: "ping"})
	assert.Error(t, err)
}

func TestLocalDispatcherReplaces(t *testing.T) {
	d := NewLocalDispatcher()
	ctx := context.Background()

	require.NoError(t, d.RegisterDispatch(ctx, "t1", "ping", "", okHandler("old")))
	require.NoError(t, d.RegisterDispatch(ctx, "t1", "ping", "", okHandler("new")))

	outcome, err := d.Dispatch(ctx, types.Invocation{Tenant: "t1", Command: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "new", outcome.Message)
}

func TestLocalDispatcherTenantsIsolated(t *testing.T) {
	d := NewLocalDispatcher()
	ctx := context.Background()

	require.NoError(t, d.RegisterDispatch(ctx, "t1", "ping", "", okHandler("t1")))
	require.NoError(t, d.RegisterDispatch(ctx, "t2", "ping", "", okHandler("t2")))

	outcome, err := d.Dispatch(ctx, types.Invocation{Tenant: "t2", Command: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "t2", outcome.Message)

	require.NoError(t, d.RemoveDispatch(ctx, "t1", "ping"))
	_, err = d.Dispatch(ctx, types.Invocation{Tenant: "t2", Command: "ping"})
	assert.NoError(t, err)
}

func TestLocalDispatcherCatalog(t *testing.T) {
	d := NewLocalDispatcher()
	ctx := context.Background()

	require.NoError(t, d.RegisterDispatch(ctx, "t1", "zeta", "last", okHandler("")))
	require.NoError(t, d.RegisterDispatch(ctx, "t1", "alpha", "first", okHandler("")))

	catalog := d.Catalog("t1")
	require.Len(t, catalog, 2)
	assert.Equal(t, "alpha", catalog[0].Name)
	assert.Equal(t, "first", catalog[0].Description)
	assert.Equal(t, "zeta", catalog[1].Name)

	assert.Empty(t, d.Catalog("unknown"))
}

func TestLocalDispatcherRejectsNilHandler(t *testing.T) {
	d := NewLocalDispatcher()
	assert.Error(t, d.RegisterDispatch(context.Background(), "t1", "ping", "", nil))
}

func TestLocalDispatcherRemoveUnknown(t *testing.T) {
	d := NewLocalDispatcher()
	assert.NoError(t, d.RemoveDispatch(context.Background(), "ghost", "ping"))
}
