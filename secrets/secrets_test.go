package secrets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a Store backed by a fresh database file that is
// cleaned up with the test.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), DefaultDBFilename)
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("unable to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

// assertEntryExists is a helper to determine if a ledger entry for the given
// identifier exists in the store. If it exists, its secret is compared
// against the expected secret.
func assertEntryExists(t *testing.T, store *Store, id [sha256.Size]byte,
	expSecret *[lsat.SecretSize]byte) {

	t.Helper()

	exists := expSecret != nil
	entry, err := store.GetEntry(context.Background(), id)
	switch {
	case exists && err != nil:
		t.Fatalf("unable to retrieve entry: %v", err)
	case !exists && err != mint.ErrSecretNotFound:
		t.Fatalf("expected error ErrSecretNotFound, got \"%v\"", err)
	case exists:
		if entry.Secret != *expSecret {
			t.Fatalf("expected secret %x, got %x", expSecret,
				entry.Secret)
		}
	default:
		return
	}
}

// TestStore ensures the different operations of the Store behave as expected.
func TestStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Create a test ID and ensure an entry doesn't exist for it yet as we
	// haven't created one.
	var id [sha256.Size]byte
	copy(id[:], bytes.Repeat([]byte("A"), 32))
	assertEntryExists(t, store, id, nil)

	// Create one and ensure we can retrieve it at a later point. The
	// stored secret is the key digest itself.
	secret, err := store.NewEntry(ctx, id, 5000)
	if err != nil {
		t.Fatalf("unable to create entry: %v", err)
	}
	if secret != id {
		t.Fatalf("expected secret %x, got %x", id, secret)
	}
	assertEntryExists(t, store, id, &secret)

	// The entry records the full namespaced key and the initial quota.
	entry, err := store.GetEntry(ctx, id)
	if err != nil {
		t.Fatalf("unable to retrieve entry: %v", err)
	}
	expKey := "lsat/proxy/secrets/" + hex.EncodeToString(id[:])
	if entry.ID != expKey {
		t.Fatalf("expected key %v, got %v", expKey, entry.ID)
	}
	if entry.Quota != 5000 {
		t.Fatalf("expected quota 5000, got %v", entry.Quota)
	}

	// Once revoked, it should no longer exist.
	if err := store.RevokeEntry(ctx, id); err != nil {
		t.Fatalf("unable to revoke entry: %v", err)
	}
	assertEntryExists(t, store, id, nil)
}

// TestStoreDebit ensures a quota is spent down correctly and that the entry
// disappears the moment it is fully spent.
func TestStoreDebit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	id := sha256.Sum256([]byte("debit"))
	_, err := store.NewEntry(ctx, id, 3000)
	require.NoError(t, err)

	remaining, err := store.Debit(ctx, id, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 2000, remaining)

	remaining, err = store.Debit(ctx, id, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 1000, remaining)

	// The final debit takes the balance to exactly zero which deletes
	// the entry outright.
	remaining, err = store.Debit(ctx, id, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 0, remaining)

	_, err = store.GetEntry(ctx, id)
	require.ErrorIs(t, err, mint.ErrSecretNotFound)

	_, err = store.Debit(ctx, id, 1000)
	require.ErrorIs(t, err, mint.ErrSecretNotFound)
}

// TestStoreDebitUnderflow ensures a debit over the remaining balance is
// rejected without altering the entry.
func TestStoreDebitUnderflow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	id := sha256.Sum256([]byte("underflow"))
	_, err := store.NewEntry(ctx, id, 2500)
	require.NoError(t, err)

	remaining, err := store.Debit(ctx, id, 2000)
	require.NoError(t, err)
	require.EqualValues(t, 500, remaining)

	_, err = store.Debit(ctx, id, 1000)
	require.ErrorIs(t, err, mint.ErrQuotaExceeded)

	// The failed debit must not have touched the balance.
	entry, err := store.GetEntry(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 500, entry.Quota)
}

// TestStoreConcurrentDebits spends a quota down from many goroutines at once
// and verifies that every millisatoshi is accounted for exactly once.
func TestStoreConcurrentDebits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	const numDebits = 20

	id := sha256.Sum256([]byte("concurrent"))
	_, err := store.NewEntry(ctx, id, numDebits*100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, numDebits)
	for i := 0; i < numDebits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := store.Debit(ctx, id, 100)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// All debits together spent the exact quota, so the entry is gone.
	_, err = store.GetEntry(ctx, id)
	require.ErrorIs(t, err, mint.ErrSecretNotFound)
}

// TestStorePersistence ensures ledger entries survive a restart of the
// store.
func TestStorePersistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), DefaultDBFilename)

	store, err := NewStore(dbPath)
	require.NoError(t, err)

	id := sha256.Sum256([]byte("persistent"))
	_, err = store.NewEntry(ctx, id, 4000)
	require.NoError(t, err)

	_, err = store.Debit(ctx, id, 1500)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	entry, err := store.GetEntry(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 2500, entry.Quota)
	require.Equal(
		t, "lsat/proxy/secrets/"+hex.EncodeToString(id[:]), entry.ID,
	)
}

// TestStoreForEachEntry ensures iteration sees every stored entry exactly
// once.
func TestStoreForEachEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	quotas := []uint64{1000, 2000, 3000}
	for i, quota := range quotas {
		id := sha256.Sum256([]byte{byte(i)})
		_, err := store.NewEntry(
			ctx, id, lnwire.MilliSatoshi(quota),
		)
		require.NoError(t, err)
	}

	var total uint64
	numEntries := 0
	err := store.ForEachEntry(ctx, func(entry *mint.Entry) error {
		numEntries++
		total += uint64(entry.Quota)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, len(quotas), numEntries)
	require.EqualValues(t, 6000, total)
}
