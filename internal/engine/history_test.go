package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	h := newHarness(t)

	st, err := h.deployer.Status(domain.EnvDev)
	require.NoError(t, err)
	assert.False(t, st.Incomplete)
	assert.Empty(t, st.Latest)
	assert.True(t, st.Recipe.IsEmpty())

	out, err := h.deployer.Deploy(context.Background(), testManifest([]byte("code")), devOptions())
	require.NoError(t, err)

	st, err = h.deployer.Status(domain.EnvDev)
	require.NoError(t, err)
	assert.Equal(t, out.Snapshot, st.Latest)
	assert.Equal(t, []string{out.Snapshot}, st.Snapshots)
	assert.Equal(t, out.Result.Recipe, st.Recipe)

	require.NoError(t, os.WriteFile(st.MarkerPath, []byte("{}"), 0o644))
	st, err = h.deployer.Status(domain.EnvDev)
	require.NoError(t, err)
	assert.True(t, st.Incomplete)
	assert.Equal(t, filepath.Join(h.dir, domain.EnvDev, "current.json"), st.MarkerPath)
}

func TestHistory_ListsCompletedRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v1, err := h.deployer.Deploy(ctx, testManifest([]byte("v1")), devOptions())
	require.NoError(t, err)
	v2, err := h.deployer.Deploy(ctx, testManifest([]byte("v2")), devOptions())
	require.NoError(t, err)

	entries, err := h.deployer.History(ctx, domain.EnvDev, store.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, v2.Run.ID, entries[0].RunID)
	assert.Equal(t, v1.Run.ID, entries[1].RunID)

	versions, err := h.deployer.CellVersions(ctx, domain.EnvDev, "X")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, v1.Snapshot, versions[0].Snapshot)
	assert.Equal(t, *versions[0].IdentityHash, *versions[1].IdentityHash)
}

func TestReindex_RebuildsFromSnapshots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v1, err := h.deployer.Deploy(ctx, testManifest([]byte("v1")), devOptions())
	require.NoError(t, err)
	v2, err := h.deployer.Deploy(ctx, testManifest([]byte("v2")), devOptions())
	require.NoError(t, err)

	// Drop the index as if it was lost.
	_, err = h.history.DeleteDeployments(ctx, domain.EnvDev)
	require.NoError(t, err)

	n, err := h.deployer.Reindex(ctx, domain.EnvDev)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := h.deployer.History(ctx, domain.EnvDev, store.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, v2.Snapshot, entries[0].Snapshot)
	assert.Equal(t, v2.Run.ID, entries[0].RunID, "run IDs come from the snapshots")
	assert.Equal(t, v1.Result.Recipe, entries[1].Recipe)
	assert.Nil(t, entries[0].CellsTx)

	// Reindexing twice yields the same index.
	n, err = h.deployer.Reindex(ctx, domain.EnvDev)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHistory_Disabled(t *testing.T) {
	d := New(Config{MigrationsDir: t.TempDir(), Wallet: newFakeWallet(), Confirmer: &fakeConfirmer{}})
	ctx := context.Background()

	_, err := d.History(ctx, domain.EnvDev, store.DefaultListOptions())
	assert.True(t, errors.Is(err, ErrHistoryDisabled))
	_, err = d.Reindex(ctx, domain.EnvDev)
	assert.True(t, errors.Is(err, ErrHistoryDisabled))
	_, err = d.CellVersions(ctx, domain.EnvDev, "X")
	assert.True(t, errors.Is(err, ErrHistoryDisabled))
}
