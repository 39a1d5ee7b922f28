package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"gopkg.in/macaroon.v2"
)

var (
	// ErrInvoiceNotSettled is returned when the challenge invoice backing
	// an LSAT has not been settled yet.
	ErrInvoiceNotSettled = errors.New("invoice not settled")
)

// Authenticator is the generic interface for validating client headers and
// returning new challenge headers.
type Authenticator interface {
	// Accept checks the LSAT contained in the request header against the
	// target path and the request body digest, then spends price from the
	// credential's quota. It returns the balance that remains after the
	// debit.
	Accept(ctx context.Context, header *http.Header, path string,
		price lnwire.MilliSatoshi,
		bodyHash lntypes.Hash) (lnwire.MilliSatoshi, error)

	// FreshChallengeHeader returns a header containing a challenge for
	// the user to complete.
	FreshChallengeHeader(ctx context.Context, path string,
		charge lnwire.MilliSatoshi,
		bodyHash lntypes.Hash) (http.Header, error)
}

// Minter is an entity that is able to mint and verify LSATs and to account
// for their spending quota.
type Minter interface {
	// MintLSAT mints a new LSAT for the given backend path, backed by a
	// challenge invoice over the given charge.
	MintLSAT(ctx context.Context, path string, charge lnwire.MilliSatoshi,
		bodyHash lntypes.Hash) (*macaroon.Macaroon, string, error)

	// VerifyLSAT attempts to verify an LSAT with the given parameters.
	VerifyLSAT(ctx context.Context, params *mint.VerificationParams) error

	// Debit subtracts amount from the quota of the LSAT backing the given
	// macaroon and returns the remaining balance.
	Debit(ctx context.Context, mac *macaroon.Macaroon,
		amount lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error)
}

// InvoiceChecker is an entity that is able to check the status of an invoice.
type InvoiceChecker interface {
	// VerifyInvoiceStatus checks that an invoice identified by a payment
	// hash has the desired status.
	VerifyInvoiceStatus(lntypes.Hash, lnrpc.Invoice_InvoiceState,
		time.Duration) error
}
