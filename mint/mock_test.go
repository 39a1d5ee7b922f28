package mint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

var (
	testPreimage = lntypes.Preimage{
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17,
		18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31,
	}
	testHash   = testPreimage.Hash()
	testPayReq = "lnsb1..."
)

type mockChallenger struct {
	lastPrice int64
}

var _ Challenger = (*mockChallenger)(nil)

func newMockChallenger() *mockChallenger {
	return &mockChallenger{}
}

func (d *mockChallenger) NewChallenge(price int64) (string, lntypes.Hash,
	error) {

	d.lastPrice = price
	return testPayReq, testHash, nil
}

type mockLedger struct {
	entries map[[sha256.Size]byte]*Entry
}

var _ Ledger = (*mockLedger)(nil)

func newMockLedger() *mockLedger {
	return &mockLedger{
		entries: make(map[[sha256.Size]byte]*Entry),
	}
}

func (s *mockLedger) NewEntry(ctx context.Context, id [sha256.Size]byte,
	quota lnwire.MilliSatoshi) ([lsat.SecretSize]byte, error) {

	s.entries[id] = &Entry{
		ID:     "lsat/proxy/secrets/" + hex.EncodeToString(id[:]),
		Secret: id,
		Quota:  quota,
	}
	return id, nil
}

func (s *mockLedger) GetEntry(ctx context.Context,
	id [sha256.Size]byte) (*Entry, error) {

	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrSecretNotFound
	}
	entryCopy := *entry
	return &entryCopy, nil
}

func (s *mockLedger) Debit(ctx context.Context, id [sha256.Size]byte,
	amount lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error) {

	entry, ok := s.entries[id]
	if !ok {
		return 0, ErrSecretNotFound
	}
	if amount > entry.Quota {
		return entry.Quota, ErrQuotaExceeded
	}

	entry.Quota -= amount
	if entry.Quota == 0 {
		delete(s.entries, id)
	}
	return entry.Quota, nil
}

func (s *mockLedger) RevokeEntry(ctx context.Context,
	id [sha256.Size]byte) error {

	delete(s.entries, id)
	return nil
}
