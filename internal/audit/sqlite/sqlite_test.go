package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/libreqos/lqosd/internal/audit"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecentRoundTrip(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Health(ctx))

	now := time.Now().UTC().Truncate(time.Second)
	entries := []audit.Entry{
		{CircuitID: "c1", Kind: "resize", Detail: "75/75", At: now},
		{CircuitID: "c2", Kind: "add", Detail: "new", At: now.Add(time.Second)},
	}
	require.NoError(t, store.Record(ctx, entries))

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c2", recent[0].CircuitID)
	require.Equal(t, "c1", recent[1].CircuitID)
}

func TestRecordEmptyEntriesIsNoop(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record(context.Background(), nil))
}
