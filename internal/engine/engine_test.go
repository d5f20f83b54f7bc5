package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conjurehq/conjure/internal/generate"
	"github.com/conjurehq/conjure/internal/platform"
	"github.com/conjurehq/conjure/internal/registry"
	"github.com/conjurehq/conjure/internal/sandbox"
	"github.com/conjurehq/conjure/internal/script"
	"github.com/conjurehq/conjure/internal/store"
	"github.com/conjurehq/conjure/pkg/types"
)

const pingSource = `function run(ctx) return "pong" end`

type cannedGenerator struct {
	candidate generate.Candidate
	err       error
}

func (g *cannedGenerator) Generate(ctx context.Context, request string) (generate.Candidate, error) {
	return g.candidate, g.err
}

func testEngine(t *testing.T, dir string, gen generate.Generator) (*Engine, *platform.LocalDispatcher) {
	t.Helper()
	dispatcher := platform.NewLocalDispatcher()
	gateway := store.NewGateway(store.NewFileStore(dir), types.StoreConfig{Retries: 1, RetryDelayMS: 1})
	reg := registry.New(dispatcher, gateway)
	sb := sandbox.New(types.SandboxConfig{TimeoutMS: 5000, Workers: 4})
	return New(reg, sb, gateway, gen), dispatcher
}

func TestEngineLifecycle(t *testing.T) {
	e, dispatcher := testEngine(t, t.TempDir(), nil)
	ctx := context.Background()

	persisted, err := e.Register(ctx, "t1", "ping", pingSource, "pings")
	require.NoError(t, err)
	assert.True(t, persisted)

	outcome, err := e.Invoke(ctx, "t1", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, outcome.Status)
	assert.Equal(t, "pong", outcome.Message)

	// The platform route reaches the same handler.
	dispatched, err := dispatcher.Dispatch(ctx, types.Invocation{Tenant: "t1", Command: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", dispatched.Message)

	_, err = e.Rename(ctx, "t1", "ping", "pong")
	require.NoError(t, err)
	outcome, err = e.Invoke(ctx, "t1", "pong", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", outcome.Message)

	_, err = e.Remove(ctx, "t1", "pong")
	require.NoError(t, err)
	_, err = e.Invoke(ctx, "t1", "pong", nil)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestEngineRestoresAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, _ := testEngine(t, dir, nil)
	_, err := first.Register(ctx, "t1", "ping", pingSource, "pings")
	require.NoError(t, err)

	// Fresh engine over the same store.
	second, dispatcher := testEngine(t, dir, nil)
	require.NoError(t, second.Start(ctx, types.WatchConfig{}))

	outcome, err := second.Invoke(ctx, "t1", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", outcome.Message)
	assert.Len(t, dispatcher.Catalog("t1"), 1)
}

func TestEngineInvokeUnknown(t *testing.T) {
	e, _ := testEngine(t, t.TempDir(), nil)
	_, err := e.Invoke(context.Background(), "t1", "ghost", nil)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestEngineDescribeRegisters(t *testing.T) {
	gen := &cannedGenerator{candidate: generate.Candidate{
		Name:        "greet",
		Source:      `function run(ctx) return "hi" end`,
		Description: "greets",
	}}
	e, _ := testEngine(t, t.TempDir(), gen)
	ctx := context.Background()

	candidate, persisted, err := e.Describe(ctx, "t1", "make a greeting command")
	require.NoError(t, err)
	assert.True(t, persisted)
	assert.Equal(t, "greet", candidate.Name)

	outcome, err := e.Invoke(ctx, "t1", "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", outcome.Message)
}

func TestEngineDescribeGateRejectsGenerated(t *testing.T) {
	gen := &cannedGenerator{candidate: generate.Candidate{
		Name:   "sneaky",
		Source: `function run(ctx) return loadstring("return 1")() end`,
	}}
	e, _ := testEngine(t, t.TempDir(), gen)

	_, _, err := e.Describe(context.Background(), "t1", "anything")
	var denied *script.DisallowedConstructError
	require.ErrorAs(t, err, &denied)

	assert.Empty(t, e.List("t1"))
}

func TestEngineDescribeWithoutGenerator(t *testing.T) {
	e, _ := testEngine(t, t.TempDir(), nil)
	_, _, err := e.Describe(context.Background(), "t1", "anything")
	assert.Error(t, err)
}

func TestEngineDescribeGeneratorFailure(t *testing.T) {
	gen := &cannedGenerator{err: errors.New("model unavailable")}
	e, _ := testEngine(t, t.TempDir(), gen)
	_, _, err := e.Describe(context.Background(), "t1", "anything")
	assert.Error(t, err)
}

func TestEngineWatchDirectory(t *testing.T) {
	storeDir := t.TempDir()
	watchDir := t.TempDir()
	ctx := context.Background()

	seed := filepath.Join(watchDir, "t1__ping.lua")
	require.NoError(t, os.WriteFile(seed, []byte(pingSource), 0644))

	e, _ := testEngine(t, storeDir, nil)
	require.NoError(t, e.Start(ctx, types.WatchConfig{Enabled: true, Dir: watchDir}))
	defer e.Stop()

	// Pre-existing file is registered during startup.
	outcome, err := e.Invoke(ctx, "t1", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", outcome.Message)

	// A file written later arrives through the watcher.
	later := filepath.Join(watchDir, "t2__hello.lua")
	require.NoError(t, os.WriteFile(later, []byte(`function run(ctx) return "hello" end`), 0644))

	assert.Eventually(t, func() bool {
		_, _, ok := e.registry.Lookup("t2", "hello")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	// Deleting the file removes the command.
	require.NoError(t, os.Remove(later))
	assert.Eventually(t, func() bool {
		_, _, ok := e.registry.Lookup("t2", "hello")
		return !ok
	}, 5*time.Second, 50*time.Millisecond)
}
