package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchbay/internal/domain"
	"patchbay/internal/repository"
)

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	require.NoError(t, err, "failed to create test repository")
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

func sampleDeltas() []domain.Delta {
	m := domain.Module{ID: 1, Client: 128, Name: "Speaker-client", Type: domain.ModuleTypeInputOutput}
	out := domain.Port{ID: 1, Module: 1, Name: "Speaker", Direction: domain.DirectionOutput, Address: domain.Address{Client: 128}}
	in := domain.Port{ID: 2, Module: 2, Name: "Synth", Direction: domain.DirectionInput, Address: domain.Address{Client: 130}}
	return []domain.Delta{
		domain.ModuleDelta(domain.EventModuleAppeared, m),
		domain.PortDelta(domain.EventPortAppeared, out),
		domain.PortDelta(domain.EventPortAppeared, in),
		domain.ConnectionDelta(domain.EventConnectionAppeared, domain.NewConnection(out, in)),
	}
}

func TestAppendAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, d := range sampleDeltas() {
		require.NoError(t, repo.Append(ctx, d))
	}

	entries, err := repo.List(ctx, repository.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Newest first
	assert.Equal(t, domain.EventConnectionAppeared, entries[0].Kind)
	assert.Equal(t, domain.EventModuleAppeared, entries[3].Kind)
	assert.Greater(t, entries[0].ID, entries[3].ID)

	conn := entries[0].Delta.Connection
	require.NotNil(t, conn)
	assert.Equal(t, domain.PortID(1), conn.Source)
	assert.Equal(t, domain.PortID(2), conn.Destination)
	assert.Equal(t, domain.Address{Client: 130}, conn.DestAddr)

	mod := entries[3].Delta.Module
	require.NotNil(t, mod)
	assert.Equal(t, "Speaker-client", mod.Name)
	assert.Equal(t, domain.ModuleTypeInputOutput, mod.Type)

	for _, e := range entries {
		assert.Equal(t, repo.Session(), e.Session)
		assert.NotEmpty(t, e.Summary)
		assert.False(t, e.At.IsZero())
	}
}

func TestListFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, d := range sampleDeltas() {
		require.NoError(t, repo.Append(ctx, d))
	}

	ports, err := repo.List(ctx, repository.Filter{Kind: domain.EventPortAppeared})
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "Synth", ports[0].Delta.Port.Name)
	assert.Equal(t, "Speaker", ports[1].Delta.Port.Name)

	limited, err := repo.List(ctx, repository.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domain.EventConnectionAppeared, limited[0].Kind)

	none, err := repo.List(ctx, repository.Filter{Session: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	deltas := sampleDeltas()
	for i, d := range deltas {
		at := base.Add(time.Duration(i) * time.Hour)
		repo.now = func() time.Time { return at }
		require.NoError(t, repo.Append(ctx, d))
	}

	n, err := repo.Prune(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := repo.List(ctx, repository.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, base.Add(3*time.Hour), entries[0].At)
}

func TestSessionsPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, sampleDeltas()[0]))
	firstSession := first.Session()
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, firstSession, second.Session())
	require.NoError(t, second.Append(ctx, sampleDeltas()[1]))

	all, err := second.List(ctx, repository.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	old, err := second.List(ctx, repository.Filter{Session: firstSession})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, domain.EventModuleAppeared, old[0].Kind)
}
