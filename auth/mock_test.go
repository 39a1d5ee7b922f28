package auth_test

import (
	"context"

	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"gopkg.in/macaroon.v2"
)

type mockMint struct {
	verifyErr error
	debitErr  error
	remaining lnwire.MilliSatoshi

	lastDebit lnwire.MilliSatoshi
}

var _ auth.Minter = (*mockMint)(nil)

func (m *mockMint) MintLSAT(_ context.Context, _ string,
	_ lnwire.MilliSatoshi, _ lntypes.Hash) (*macaroon.Macaroon, string,
	error) {

	mac, err := macaroon.New(
		[]byte("aabbccddeeff00112233445566778899"), []byte("AA=="),
		"tollgate", macaroon.LatestVersion,
	)
	if err != nil {
		return nil, "", err
	}

	return mac, "lnsb420n1fake", nil
}

func (m *mockMint) VerifyLSAT(_ context.Context,
	_ *mint.VerificationParams) error {

	return m.verifyErr
}

func (m *mockMint) Debit(_ context.Context, _ *macaroon.Macaroon,
	amount lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error) {

	if m.debitErr != nil {
		return 0, m.debitErr
	}

	m.lastDebit = amount
	return m.remaining, nil
}
