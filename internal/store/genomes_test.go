package store

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neat-trader/internal/config"
	"neat-trader/internal/genome"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewSQLite(config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "db", "neat.db"),
		MaxOpenConns:    2,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGenomeRepositoryBest(t *testing.T) {
	ctx := context.Background()
	repo, err := NewGenomeRepository(newTestStore(t))
	require.NoError(t, err)

	_, err = repo.Best(ctx, "run-1")
	require.ErrorIs(t, err, ErrNotFound)

	lt := genome.NewLineageTable()
	rng := rand.New(rand.NewSource(1))
	fitness := []float64{0.1, 0.7, 0.3}
	var want genome.Genome
	for i, f := range fitness {
		g, err := genome.New(3, 3, lt, rng)
		require.NoError(t, err)
		g.Fitness = f
		g.Generation = i
		require.NoError(t, repo.Save(ctx, "run-1", g))
		if f == 0.7 {
			want = g
		}
	}

	other, err := genome.New(3, 3, lt, rng)
	require.NoError(t, err)
	other.Fitness = 5
	require.NoError(t, repo.Save(ctx, "run-2", other))

	best, err := repo.Best(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, best.Genome.ID)
	assert.Equal(t, 1, best.Generation)
	assert.InDelta(t, 0.7, best.Fitness, 1e-12)
	assert.Equal(t, want.Connections, best.Genome.Connections)

	overall, err := repo.Best(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, other.ID, overall.Genome.ID)
}

func TestGenomeRepositorySaveOverwrites(t *testing.T) {
	ctx := context.Background()
	repo, err := NewGenomeRepository(newTestStore(t))
	require.NoError(t, err)

	g, err := genome.New(2, 3, genome.NewLineageTable(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	g.Fitness = 0.2
	require.NoError(t, repo.Save(ctx, "run", g))
	g.Fitness = 0.9
	require.NoError(t, repo.Save(ctx, "run", g))

	best, err := repo.Best(ctx, "run")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, best.Fitness, 1e-12)
}
