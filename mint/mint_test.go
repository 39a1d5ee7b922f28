package mint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
	"gopkg.in/macaroon.v2"
)

const (
	testPath   = "/echo"
	testCharge = lnwire.MilliSatoshi(3000)
	testPrice  = lnwire.MilliSatoshi(1000)
)

var (
	testBodyDigest = lsat.DigestFields(map[string]string{
		"prompt": "hello",
	})
)

func newTestMint(ledger Ledger, challenger Challenger,
	now func() time.Time) *Mint {

	return New(&Config{
		Challenger: challenger,
		Ledger:     ledger,
		Location:   "tollgate",
		Now:        now,
	})
}

// TestBasicLSAT ensures that a minted LSAT verifies for the path it was
// bought for and nothing else.
func TestBasicLSAT(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mint := newTestMint(newMockLedger(), newMockChallenger(), time.Now)

	mac, payReq, err := mint.MintLSAT(
		ctx, testPath, testCharge, testBodyDigest,
	)
	require.NoError(t, err)
	require.Equal(t, testPayReq, payReq)

	params := VerificationParams{
		Macaroon:   mac,
		Preimage:   testPreimage,
		TargetPath: testPath,
		BodyDigest: testBodyDigest,
	}
	require.NoError(t, mint.VerifyLSAT(ctx, &params))

	// It should not be able to access any other path.
	otherParams := params
	otherParams.TargetPath = "/other"
	err = mint.VerifyLSAT(ctx, &otherParams)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not authorized")
}

// TestMintChallengeAmount ensures the full charge is both invoiced and
// granted as the initial quota.
func TestMintChallengeAmount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newMockLedger()
	challenger := newMockChallenger()
	mint := newTestMint(ledger, challenger, time.Now)

	mac, _, err := mint.MintLSAT(ctx, testPath, testCharge, testBodyDigest)
	require.NoError(t, err)

	// The challenge invoice asks for the whole budget.
	require.EqualValues(t, testCharge, challenger.lastPrice)

	// And the ledger entry starts out with the same balance and the
	// identity digest as its secret.
	idBytes, err := hex.DecodeString(string(mac.Id()))
	require.NoError(t, err)
	entry, err := ledger.GetEntry(ctx, sha256.Sum256(idBytes))
	require.NoError(t, err)
	require.Equal(t, testCharge, entry.Quota)
	require.EqualValues(t, sha256.Sum256(idBytes), entry.Secret)
}

// TestMintCaveatOrder ensures a fresh LSAT carries exactly the payment
// window, path and payload caveats, in that order.
func TestMintCaveatOrder(t *testing.T) {
	t.Parallel()

	initialTime := int64(1666720000)
	mockTime := newMockTime(initialTime)

	ctx := context.Background()
	mint := newTestMint(newMockLedger(), newMockChallenger(), mockTime.now)

	mac, _, err := mint.MintLSAT(ctx, testPath, testCharge, testBodyDigest)
	require.NoError(t, err)

	caveats := mac.Caveats()
	require.Len(t, caveats, 3)

	deadline := initialTime + int64(PaymentWindow.Seconds())
	require.Equal(
		t, lsat.NewDeadlineCaveat(deadline).String(),
		string(caveats[0].Id),
	)
	require.Equal(
		t, lsat.NewPathCaveat(testPath).String(),
		string(caveats[1].Id),
	)
	require.Equal(
		t, lsat.NewPayloadCaveat(testBodyDigest).String(),
		string(caveats[2].Id),
	)
}

// TestExpiredLSAT asserts that an LSAT stops verifying once its payment
// window has passed.
func TestExpiredLSAT(t *testing.T) {
	t.Parallel()

	initialTime := int64(1666720000)
	mockTime := newMockTime(initialTime)

	ctx := context.Background()
	mint := newTestMint(newMockLedger(), newMockChallenger(), mockTime.now)

	mac, _, err := mint.MintLSAT(ctx, testPath, testCharge, testBodyDigest)
	require.NoError(t, err)

	params := VerificationParams{
		Macaroon:   mac,
		Preimage:   testPreimage,
		TargetPath: testPath,
		BodyDigest: testBodyDigest,
	}
	require.NoError(t, mint.VerifyLSAT(ctx, &params))

	// One second before the window closes the LSAT is still fine.
	mockTime.setTime(initialTime + int64(PaymentWindow.Seconds()) - 1)
	require.NoError(t, mint.VerifyLSAT(ctx, &params))

	// Once the deadline is reached it no longer verifies.
	mockTime.setTime(initialTime + int64(PaymentWindow.Seconds()) + 1)
	err = mint.VerifyLSAT(ctx, &params)
	require.Error(t, err)
	require.Contains(t, err.Error(), "passed")
}

// TestWrongPreimage ensures an LSAT presented with a preimage that does not
// hash to its payment hash is rejected.
func TestWrongPreimage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mint := newTestMint(newMockLedger(), newMockChallenger(), time.Now)

	mac, _, err := mint.MintLSAT(ctx, testPath, testCharge, testBodyDigest)
	require.NoError(t, err)

	wrongPreimage := testPreimage
	wrongPreimage[0] ^= 1
	params := VerificationParams{
		Macaroon:   mac,
		Preimage:   wrongPreimage,
		TargetPath: testPath,
		BodyDigest: testBodyDigest,
	}
	err = mint.VerifyLSAT(ctx, &params)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid preimage")

	// The error must never contain the preimage itself.
	require.NotContains(t, err.Error(), wrongPreimage.String())
}

// TestRevokedLSAT ensures that we can no longer verify a revoked LSAT.
func TestRevokedLSAT(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mint := newTestMint(newMockLedger(), newMockChallenger(), time.Now)

	mac, _, err := mint.MintLSAT(ctx, testPath, testCharge, testBodyDigest)
	require.NoError(t, err)

	params := VerificationParams{
		Macaroon:   mac,
		Preimage:   testPreimage,
		TargetPath: testPath,
		BodyDigest: testBodyDigest,
	}
	require.NoError(t, mint.VerifyLSAT(ctx, &params))

	// Proceed to revoke it. We should no longer be able to verify it
	// after.
	idBytes, err := hex.DecodeString(string(mac.Id()))
	require.NoError(t, err)
	idHash := sha256.Sum256(idBytes)
	require.NoError(t, mint.cfg.Ledger.RevokeEntry(ctx, idHash))

	err = mint.VerifyLSAT(ctx, &params)
	require.ErrorIs(t, err, ErrSecretNotFound)
}

// TestTamperedLSAT ensures that an LSAT that has been tampered with by
// modifying its signature results in its verification failing.
func TestTamperedLSAT(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mint := newTestMint(newMockLedger(), newMockChallenger(), time.Now)

	mac, _, err := mint.MintLSAT(ctx, testPath, testCharge, testBodyDigest)
	require.NoError(t, err)

	// Flip a byte of the signature and reassemble the macaroon.
	macBytes, err := mac.MarshalBinary()
	require.NoError(t, err)
	macBytes[len(macBytes)-1] ^= 1
	var tampered macaroon.Macaroon
	require.NoError(t, tampered.UnmarshalBinary(macBytes))

	params := VerificationParams{
		Macaroon:   &tampered,
		Preimage:   testPreimage,
		TargetPath: testPath,
		BodyDigest: testBodyDigest,
	}
	err = mint.VerifyLSAT(ctx, &params)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "signature mismatch"))
}

// TestFabricatedLedgerEntry ensures an entry whose stored secret does not
// equal the identity digest is rejected even if the signature would check
// out.
func TestFabricatedLedgerEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newMockLedger()
	mint := newTestMint(ledger, newMockChallenger(), time.Now)

	mac, _, err := mint.MintLSAT(ctx, testPath, testCharge, testBodyDigest)
	require.NoError(t, err)

	// Corrupt the stored secret behind the mint's back.
	idBytes, err := hex.DecodeString(string(mac.Id()))
	require.NoError(t, err)
	idHash := sha256.Sum256(idBytes)
	ledger.entries[idHash].Secret[0] ^= 1

	params := VerificationParams{
		Macaroon:   mac,
		Preimage:   testPreimage,
		TargetPath: testPath,
		BodyDigest: testBodyDigest,
	}
	err = mint.VerifyLSAT(ctx, &params)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ledger secret mismatch")
}

// TestDebitLifecycle walks a minted LSAT through the full amortization of
// its quota: three exact debits, deletion at zero and rejection afterwards.
func TestDebitLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mint := newTestMint(newMockLedger(), newMockChallenger(), time.Now)

	mac, _, err := mint.MintLSAT(ctx, testPath, testCharge, testBodyDigest)
	require.NoError(t, err)

	// Three debits of the per-request price drain the quota step by step.
	for _, expected := range []lnwire.MilliSatoshi{2000, 1000, 0} {
		remaining, err := mint.Debit(ctx, mac, testPrice)
		require.NoError(t, err)
		require.Equal(t, expected, remaining)
	}

	// The entry was deleted when the balance hit zero, so both another
	// debit and a fresh verification now report the LSAT as gone.
	_, err = mint.Debit(ctx, mac, testPrice)
	require.ErrorIs(t, err, ErrSecretNotFound)

	params := VerificationParams{
		Macaroon:   mac,
		Preimage:   testPreimage,
		TargetPath: testPath,
		BodyDigest: testBodyDigest,
	}
	err = mint.VerifyLSAT(ctx, &params)
	require.ErrorIs(t, err, ErrSecretNotFound)
}

// TestDebitUnderflow ensures a debit over the remaining balance fails and
// leaves the balance untouched.
func TestDebitUnderflow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newMockLedger()
	mint := newTestMint(ledger, newMockChallenger(), time.Now)

	// A quota that is not an exact multiple of the price leaves a rest
	// that can never be spent.
	mac, _, err := mint.MintLSAT(
		ctx, testPath, lnwire.MilliSatoshi(2500), testBodyDigest,
	)
	require.NoError(t, err)

	for _, expected := range []lnwire.MilliSatoshi{1500, 500} {
		remaining, err := mint.Debit(ctx, mac, testPrice)
		require.NoError(t, err)
		require.Equal(t, expected, remaining)
	}

	_, err = mint.Debit(ctx, mac, testPrice)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// The remaining balance is still there, untouched.
	idBytes, err := hex.DecodeString(string(mac.Id()))
	require.NoError(t, err)
	entry, err := ledger.GetEntry(ctx, sha256.Sum256(idBytes))
	require.NoError(t, err)
	require.EqualValues(t, 500, entry.Quota)
}

type mockTime struct {
	time time.Time
}

func newMockTime(initialTime int64) *mockTime {
	return &mockTime{
		time: time.Unix(initialTime, 0),
	}
}

func (mt *mockTime) now() time.Time {
	return mt.time
}

func (mt *mockTime) setTime(timestamp int64) {
	mt.time = time.Unix(timestamp, 0)
}
