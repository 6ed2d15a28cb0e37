package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/libreqos/lqosd/internal/audit"
	"github.com/stretchr/testify/require"
)

// These tests only run against a real PostgreSQL instance, since unlike
// the sqlite backend there is no in-process ":memory:" mode. Set
// LQOSD_TEST_POSTGRES_DSN to a reachable database to exercise them.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LQOSD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LQOSD_TEST_POSTGRES_DSN not set, skipping postgres audit store test")
	}
	return dsn
}

func TestRecordAndRecentRoundTrip(t *testing.T) {
	store, err := Open(testDSN(t))
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
	require.GreaterOrEqual(t, len(recent), 2)
	require.Equal(t, "c2", recent[0].CircuitID)
}

func TestRecordEmptyEntriesIsNoop(t *testing.T) {
	store, err := Open(testDSN(t))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record(context.Background(), nil))
}
