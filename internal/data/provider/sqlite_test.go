package provider

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"arbor/internal/core/ports"
	"arbor/internal/core/structid"
)

func seedRecords() []ports.Record {
	return []ports.Record{
		{ID: "a", ParentID: "", StructureID: "1.", SortKey: "a", Kind: "folder", HasChildren: true, ChildCount: 2, Height: 24},
		{ID: "b", ParentID: "a", StructureID: "1.1.", SortKey: "b", Kind: "leaf", Height: 24, Payload: []byte("b-payload")},
		{ID: "c", ParentID: "a", StructureID: "1.2.", SortKey: "c", Kind: "leaf", Height: 24, Payload: []byte("c-payload")},
		{ID: "d", ParentID: "", StructureID: "2.", SortKey: "d", Kind: "folder", Height: 24},
	}
}

func openSeeded(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "arbor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Seed(context.Background(), seedRecords()))
	return store
}

func TestStoreLoadChildren(t *testing.T) {
	store := openSeeded(t)

	res, err := store.LoadChildren(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "b", res.Records[0].ID)
	require.Equal(t, "c", res.Records[1].ID)
	require.Equal(t, structid.ID("1.1."), res.Records[0].StructureID)
	require.Equal(t, 4, res.TotalCount)
	require.True(t, res.HasMore)
}

func TestStoreLoadLevel(t *testing.T) {
	store := openSeeded(t)

	res, err := store.LoadLevel(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "a", res.Records[0].ID)
	require.Equal(t, "d", res.Records[1].ID)
}

func TestStoreLoadRangePreOrder(t *testing.T) {
	store := openSeeded(t)

	// Pre-order: a(0), b(1), c(2), d(3).
	res, err := store.LoadRange(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "b", res.Records[0].ID)
	require.Equal(t, "c", res.Records[1].ID)
}

func TestStoreCommitUpdatesAndReindexes(t *testing.T) {
	store := openSeeded(t)
	ctx := context.Background()

	// Swap b and c under a.
	changes := []ports.StructureChange{
		{NodeID: "c", OldStructureID: "1.2.", NewStructureID: "1.1.", OldParentID: "a", NewParentID: "a", OldIndex: 1, NewIndex: 0},
		{NodeID: "b", OldStructureID: "1.1.", NewStructureID: "1.2.", OldParentID: "a", NewParentID: "a", OldIndex: 0, NewIndex: 1},
	}
	require.NoError(t, store.Commit(ctx, "req-1", changes))

	res, err := store.LoadChildren(ctx, "a")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "c", res.Records[0].ID)
	require.Equal(t, "b", res.Records[1].ID)

	assigned, err := store.AllIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, structid.ID("1.1."), assigned["c"])
	require.Equal(t, structid.ID("1.2."), assigned["b"])

	report := structid.Validate(assigned)
	require.True(t, report.IsValid, "post-commit assignment must validate: %v", report.Issues)
}

func TestStoreLoadByIDs(t *testing.T) {
	store := openSeeded(t)

	res, err := store.LoadByIDs(context.Background(), []string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	// Pre-order: a before c.
	require.Equal(t, "a", res.Records[0].ID)
	require.Equal(t, "c", res.Records[1].ID)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
