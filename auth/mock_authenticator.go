package auth

import (
	"context"
	"net/http"

	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// MockAuthenticator is a mock implementation of the authenticator.
type MockAuthenticator struct {
	// Remaining is the quota balance reported for accepted requests.
	Remaining lnwire.MilliSatoshi

	// Err is returned for requests that do carry an auth header.
	Err error
}

// A compile time flag to ensure the MockAuthenticator satisfies the
// Authenticator interface.
var _ Authenticator = (*MockAuthenticator)(nil)

// NewMockAuthenticator returns a new MockAuthenticator instance.
func NewMockAuthenticator() *MockAuthenticator {
	return &MockAuthenticator{}
}

// Accept returns whether or not the header successfully authenticates the user
// to a given backend service.
func (a *MockAuthenticator) Accept(_ context.Context, header *http.Header,
	_ string, _ lnwire.MilliSatoshi,
	_ lntypes.Hash) (lnwire.MilliSatoshi, error) {

	switch {
	case header.Get("Authorization") != "":
	case header.Get("Grpc-Metadata-macaroon") != "":
	case header.Get("Macaroon") != "":

	default:
		return 0, lsat.ErrNoAuthHeader
	}

	return a.Remaining, a.Err
}

// FreshChallengeHeader returns a header containing a challenge for the user to
// complete.
func (a *MockAuthenticator) FreshChallengeHeader(_ context.Context, _ string,
	_ lnwire.MilliSatoshi, _ lntypes.Hash) (http.Header, error) {

	header := http.Header{}
	header.Set("WWW-Authenticate", "LSAT macaroon=\"AGIAJEemVQUTEyNCR0exk"+
		"7ek90Cg==\" invoice=\"lnbc1500n1pw5kjhmpp5fu6xhthlt2vucmzkx6c"+
		"7wtlh2r625r30cyjsfqhu8rsx4xpz5lwqdpa2fjkzep6yptksct5yp5hxgrrv"+
		"96hx6twvusycn3qv9jx7ur5d9hkugr5dusx6cqzpgxqr23s79ruapxc4j5usk"+
		"t4htly2salw4drq979d7rcela9wz02elhypmdzmzlnxuknpgfyfm86pntt8vv"+
		"kvffma5qc9n50h4mvqhngadqy3ngqjcym5a\"")
	return header, nil
}
