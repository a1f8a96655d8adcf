package target_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbfleet/internal/target"
)

type fakeLister struct {
	packages map[string][]string
	queries  int
}

func (l *fakeLister) InstalledPackages(_ context.Context, device string) ([]string, error) {
	l.queries++
	return l.packages[device], nil
}

func TestNewSpec(t *testing.T) {
	_, err := target.New("", "")
	assert.ErrorIs(t, err, target.ErrInvalidSpec)

	_, err = target.NewPattern("[")
	assert.Error(t, err)

	spec, err := target.New("com.example.app", "ignored")
	require.NoError(t, err)
	assert.True(t, spec.IsExact())
	assert.Equal(t, "com.example.app", spec.Package())
}

func TestResolveExactSkipsListing(t *testing.T) {
	lister := &fakeLister{}
	resolver := target.NewResolver(lister)

	spec, err := target.NewExact("com.example.app")
	require.NoError(t, err)

	matches, err := resolver.Resolve(context.Background(), "emu-5554", spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.app"}, matches)
	assert.Zero(t, lister.queries, "exact specs must not query the device")
}

func TestResolvePattern(t *testing.T) {
	lister := &fakeLister{packages: map[string][]string{
		"emu-5554": {"com.example.app", "com.other.tool", "org.example.demo"},
	}}
	resolver := target.NewResolver(lister)

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{name: "substring match anywhere", pattern: "example", want: []string{"com.example.app", "org.example.demo"}},
		{name: "single match", pattern: "other", want: []string{"com.other.tool"}},
		{name: "no match", pattern: "missing", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := target.NewPattern(tt.pattern)
			require.NoError(t, err)
			matches, err := resolver.Resolve(context.Background(), "emu-5554", spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, matches, "matches must keep listing order")
		})
	}
}

func TestDecide(t *testing.T) {
	spec, err := target.NewPattern("example")
	require.NoError(t, err)

	tests := []struct {
		name    string
		matches []string
		force   bool
		want    target.Decision
	}{
		{name: "no match skips", matches: nil, force: true, want: target.Skip},
		{name: "single match proceeds", matches: []string{"a"}, force: false, want: target.ProceedAll},
		{name: "single match proceeds with force", matches: []string{"a"}, force: true, want: target.ProceedAll},
		{name: "ambiguous skips without force", matches: []string{"a", "b"}, force: false, want: target.Skip},
		{name: "ambiguous proceeds with force", matches: []string{"a", "b"}, force: true, want: target.ProceedAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := target.Decide(context.Background(), "emu-5554", spec, tt.matches, target.Policy{Force: tt.force})
			assert.Equal(t, tt.want, got)
		})
	}
}
