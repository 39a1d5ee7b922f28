package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

const (
	// DefaultInvoiceLookupTimeout is the maximum time we wait for the
	// settlement state of an invoice to be resolved against the node.
	DefaultInvoiceLookupTimeout = 3 * time.Second
)

// LsatAuthenticator is an authenticator that uses the LSAT protocol to
// authenticate requests.
type LsatAuthenticator struct {
	minter  Minter
	checker InvoiceChecker
}

// A compile time flag to ensure the LsatAuthenticator satisfies the
// Authenticator interface.
var _ Authenticator = (*LsatAuthenticator)(nil)

// NewLsatAuthenticator creates a new authenticator that authenticates requests
// based on LSAT tokens.
func NewLsatAuthenticator(minter Minter,
	checker InvoiceChecker) *LsatAuthenticator {

	return &LsatAuthenticator{
		minter:  minter,
		checker: checker,
	}
}

// Accept checks the LSAT contained in the request header against the target
// path and the request body digest, then spends price from the credential's
// quota. It returns the balance that remains after the debit.
//
// NOTE: This is part of the Authenticator interface.
func (l *LsatAuthenticator) Accept(ctx context.Context, header *http.Header,
	path string, price lnwire.MilliSatoshi,
	bodyHash lntypes.Hash) (lnwire.MilliSatoshi, error) {

	// Try reading the macaroon and preimage from the HTTP header. This can
	// be in different header fields depending on the implementation and/or
	// protocol.
	mac, preimage, err := lsat.FromHeader(header)
	if err != nil {
		log.Debugf("Deny: %v", err)
		return 0, err
	}

	err = l.minter.VerifyLSAT(ctx, &mint.VerificationParams{
		Macaroon:   mac,
		Preimage:   preimage,
		TargetPath: path,
		BodyDigest: bodyHash,
	})
	if err != nil {
		log.Debugf("Deny: LSAT validation failed: %v", err)
		return 0, err
	}

	// Make sure the node has the invoice recorded as settled.
	err = l.checker.VerifyInvoiceStatus(
		preimage.Hash(), lnrpc.Invoice_SETTLED,
		DefaultInvoiceLookupTimeout,
	)
	if err != nil {
		log.Debugf("Deny: Invoice status mismatch: %v", err)
		return 0, fmt.Errorf("%w: %v", ErrInvoiceNotSettled, err)
	}

	// The request is paid for, spend its price from the credential's
	// quota.
	remaining, err := l.minter.Debit(ctx, mac, price)
	if err != nil {
		log.Debugf("Deny: quota debit failed: %v", err)
		return 0, err
	}

	return remaining, nil
}

// FreshChallengeHeader returns a header containing a challenge for the user
// to complete.
//
// NOTE: This is part of the Authenticator interface.
func (l *LsatAuthenticator) FreshChallengeHeader(ctx context.Context,
	path string, charge lnwire.MilliSatoshi,
	bodyHash lntypes.Hash) (http.Header, error) {

	mac, paymentRequest, err := l.minter.MintLSAT(
		ctx, path, charge, bodyHash,
	)
	if err != nil {
		log.Errorf("Error minting LSAT: %v", err)
		return nil, err
	}
	macBytes, err := mac.MarshalBinary()
	if err != nil {
		log.Errorf("Error serializing LSAT: %v", err)
		return nil, err
	}

	str := fmt.Sprintf("LSAT macaroon=\"%s\" invoice=\"%s\"",
		base64.StdEncoding.EncodeToString(macBytes), paymentRequest)
	header := http.Header{}
	header.Set("WWW-Authenticate", str)

	log.Debugf("Created new challenge header: [%s]", str)
	return header, nil
}
