package fleet_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbfleet/internal/fleet"
	"adbfleet/internal/target"
)

type fakeLister struct {
	packages map[string][]string
}

func (l *fakeLister) InstalledPackages(_ context.Context, device string) ([]string, error) {
	return l.packages[device], nil
}

// callRecorder collects operation invocations; dispatch runs devices in
// parallel, so it locks.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *callRecorder) op(_ context.Context, pkg, device string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, device+"/"+pkg)
	if err := r.fail[device+"/"+pkg]; err != nil {
		return err
	}
	return nil
}

func newDispatcher(lister *fakeLister, workers int) *fleet.Dispatcher {
	return fleet.NewDispatcher(target.NewResolver(lister), workers)
}

func pattern(t *testing.T, expr string) target.Spec {
	t.Helper()
	spec, err := target.NewPattern(expr)
	require.NoError(t, err)
	return spec
}

func TestDispatchInvalidSpec(t *testing.T) {
	d := newDispatcher(&fakeLister{}, 1)
	_, err := d.Dispatch(context.Background(), []string{"emu-5554"}, target.Spec{}, target.Policy{}, nil)
	assert.ErrorIs(t, err, target.ErrInvalidSpec)
}

func TestDispatchAmbiguityPolicy(t *testing.T) {
	lister := &fakeLister{packages: map[string][]string{
		"none":   {"com.other.tool"},
		"single": {"com.example.app", "com.other.tool"},
		"multi":  {"com.example.app", "com.example.demo"},
	}}
	devices := []string{"none", "single", "multi"}

	t.Run("without force", func(t *testing.T) {
		rec := &callRecorder{}
		summary, err := newDispatcher(lister, 1).Dispatch(
			context.Background(), devices, pattern(t, "example"), target.Policy{}, rec.op)
		require.NoError(t, err)

		assert.Equal(t, []string{"single"}, summary.Affected)
		assert.Equal(t, []string{"none", "multi"}, summary.Skipped)
		assert.Empty(t, summary.Failed)
		assert.Equal(t, []string{"single/com.example.app"}, rec.calls)
	})

	t.Run("with force", func(t *testing.T) {
		rec := &callRecorder{}
		summary, err := newDispatcher(lister, 1).Dispatch(
			context.Background(), devices, pattern(t, "example"), target.Policy{Force: true}, rec.op)
		require.NoError(t, err)

		assert.Equal(t, []string{"single", "multi"}, summary.Affected)
		assert.Equal(t, []string{"none"}, summary.Skipped)
		// Every match, once, in listing order.
		assert.Equal(t, []string{
			"single/com.example.app",
			"multi/com.example.app",
			"multi/com.example.demo",
		}, rec.calls)
	})
}

func TestDispatchExactSpecHitsEveryDevice(t *testing.T) {
	rec := &callRecorder{}
	spec, err := target.NewExact("com.example.app")
	require.NoError(t, err)

	summary, err := newDispatcher(&fakeLister{}, 1).Dispatch(
		context.Background(), []string{"a", "b"}, spec, target.Policy{}, rec.op)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, summary.Affected)
	assert.Equal(t, []string{"a/com.example.app", "b/com.example.app"}, rec.calls)
}

func TestDispatchFailureIsPerDevice(t *testing.T) {
	lister := &fakeLister{packages: map[string][]string{
		"bad":  {"com.example.app", "com.example.demo"},
		"good": {"com.example.app"},
	}}
	opErr := errors.New("uninstall failed")
	rec := &callRecorder{fail: map[string]error{"bad/com.example.app": opErr}}

	summary, err := newDispatcher(lister, 1).Dispatch(
		context.Background(), []string{"bad", "good"}, pattern(t, "example"), target.Policy{Force: true}, rec.op)
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, summary.Affected)
	require.Contains(t, summary.Failed, "bad")
	assert.ErrorIs(t, summary.Failed["bad"], opErr)
	// The failing device's remaining packages are not attempted; the other
	// device still runs.
	assert.Equal(t, []string{"bad/com.example.app", "good/com.example.app"}, rec.calls)
}

func TestDispatchParallelDevices(t *testing.T) {
	lister := &fakeLister{packages: map[string][]string{
		"a": {"com.example.app"}, "b": {"com.example.app"},
		"c": {"com.example.app"}, "d": {"com.example.app"},
	}}
	rec := &callRecorder{}

	summary, err := newDispatcher(lister, 4).Dispatch(
		context.Background(), []string{"a", "b", "c", "d"}, pattern(t, "example"), target.Policy{}, rec.op)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, summary.Affected)
	assert.Len(t, rec.calls, 4)
}
