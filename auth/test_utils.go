package auth

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"gopkg.in/macaroon.v2"
)

// CreateDummyMacHex creates a valid macaroon with dummy content for our tests.
func CreateDummyMacHex(preimage string) string {
	dummyMac, err := macaroon.New(
		[]byte("aabbccddeeff00112233445566778899"), []byte("AA=="),
		"tollgate", macaroon.LatestVersion,
	)
	if err != nil {
		panic(err)
	}
	preimageCaveat := lsat.Caveat{
		Condition: lsat.PreimageKey,
		Value:     preimage,
	}
	err = lsat.AddFirstPartyCaveats(dummyMac, preimageCaveat)
	if err != nil {
		panic(err)
	}
	macBytes, err := dummyMac.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return hex.EncodeToString(macBytes)
}

// MockMint is a Minter that accepts every LSAT and mints static dummy tokens.
type MockMint struct {
	// Remaining is the balance reported after every debit.
	Remaining lnwire.MilliSatoshi
}

var _ Minter = (*MockMint)(nil)

func (m *MockMint) MintLSAT(_ context.Context, _ string,
	_ lnwire.MilliSatoshi, _ lntypes.Hash) (*macaroon.Macaroon, string,
	error) {

	mac, err := macaroon.New(
		[]byte("aabbccddeeff00112233445566778899"), []byte("AA=="),
		"tollgate", macaroon.LatestVersion,
	)
	if err != nil {
		return nil, "", err
	}

	return mac, "lnsb1500n1mock", nil
}

func (m *MockMint) VerifyLSAT(_ context.Context,
	_ *mint.VerificationParams) error {

	return nil
}

func (m *MockMint) Debit(_ context.Context, _ *macaroon.Macaroon,
	_ lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error) {

	return m.Remaining, nil
}

// MockChecker is an InvoiceChecker that always returns its configured error.
type MockChecker struct {
	Err error
}

var _ InvoiceChecker = (*MockChecker)(nil)

func (m *MockChecker) VerifyInvoiceStatus(lntypes.Hash,
	lnrpc.Invoice_InvoiceState, time.Duration) error {

	return m.Err
}
