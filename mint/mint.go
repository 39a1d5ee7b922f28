package mint

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"gopkg.in/macaroon.v2"
)

const (
	// PaymentWindow is the time a requester has to settle the challenge
	// invoice. It is baked into every minted LSAT as its first caveat.
	PaymentWindow = 120 * time.Second
)

var (
	// ErrSecretNotFound is an error returned when we attempt to retrieve
	// a ledger entry by its key but it is not found.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrQuotaExceeded is an error returned when a debit asks for more
	// than the remaining balance of a ledger entry.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Challenger is an interface used to present requesters of LSATs with a
// challenge that must be satisfied before an LSAT can be validated. This
// challenge takes the form of a Lightning payment request.
type Challenger interface {
	// NewChallenge returns a new challenge in the form of a Lightning
	// payment request over the given amount in millisatoshis. The payment
	// hash is also returned as a convenience to avoid having to decode
	// the payment request in order to retrieve its payment hash.
	NewChallenge(price int64) (string, lntypes.Hash, error)
}

// Entry is the ledger record backing a minted LSAT.
type Entry struct {
	// ID is the namespaced key string the entry is stored under.
	ID string

	// Secret is the macaroon signing key of the credential. For a genuine
	// entry it equals the SHA-256 digest of the identifier bytes, which
	// is also the key the entry is stored under.
	Secret [lsat.SecretSize]byte

	// Quota is the millisatoshi balance the credential can still spend on
	// requests.
	Quota lnwire.MilliSatoshi
}

// Ledger is the store tracking the secret and the remaining quota of every
// minted LSAT, keyed by the SHA-256 digest of its identifier bytes.
type Ledger interface {
	// NewEntry creates the ledger entry for a freshly minted LSAT with
	// the given initial quota and returns the stored secret.
	NewEntry(ctx context.Context, id [sha256.Size]byte,
		quota lnwire.MilliSatoshi) ([lsat.SecretSize]byte, error)

	// GetEntry returns the ledger entry stored under the given key. If
	// there is no entry, ErrSecretNotFound is returned.
	GetEntry(ctx context.Context, id [sha256.Size]byte) (*Entry, error)

	// Debit atomically subtracts amount from the entry's quota and
	// returns the remaining balance. The entry is deleted when the
	// balance reaches exactly zero. A debit over the remaining balance
	// fails with ErrQuotaExceeded and leaves the entry untouched.
	Debit(ctx context.Context, id [sha256.Size]byte,
		amount lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error)

	// RevokeEntry removes the ledger entry that corresponds to the given
	// key. This acts as a NOP if the entry does not exist.
	RevokeEntry(ctx context.Context, id [sha256.Size]byte) error
}

// Config packages all of the required dependencies to instantiate a new LSAT
// mint.
type Config struct {
	// Challenger is our source of new challenges to present requesters of
	// an LSAT with.
	Challenger Challenger

	// Ledger is our source for LSAT secrets and quota balances which will
	// be used for verification and charging purposes.
	Ledger Ledger

	// Location is embedded as the location of every minted macaroon and
	// identifies this mint to clients.
	Location string

	// Now returns the current time, it anchors the payment window caveat
	// at mint time and its verification afterwards.
	Now func() time.Time
}

// Mint is an entity that is able to mint and verify LSATs for a set of
// configured backends.
type Mint struct {
	cfg Config
}

// New creates a new LSAT mint backed by its given dependencies.
func New(cfg *Config) *Mint {
	return &Mint{cfg: *cfg}
}

// entryRemover is the signature of the cleanup closure that removes a ledger
// entry again if a later minting step fails.
type entryRemover func(context.Context)

// MintLSAT mints a new LSAT for the given backend path. The charge is the
// full invoice amount in millisatoshis and doubles as the initial quota of
// the credential's ledger entry. The returned payment request must be settled
// before the LSAT passes verification.
func (m *Mint) MintLSAT(ctx context.Context, path string,
	charge lnwire.MilliSatoshi,
	bodyDigest lntypes.Hash) (*macaroon.Macaroon, string, error) {

	// We'll start by retrieving a new challenge in the form of a Lightning
	// payment request to present the requester of the LSAT with.
	paymentRequest, paymentHash, err := m.cfg.Challenger.NewChallenge(
		int64(charge),
	)
	if err != nil {
		return nil, "", err
	}

	// We can then proceed to mint the LSAT with a unique identifier that
	// is mapped to its own ledger entry.
	idBytes, err := createUniqueIdentifier(paymentHash)
	if err != nil {
		return nil, "", err
	}

	// The digest of the identifier bytes serves as the ledger key, the
	// stored secret and the macaroon signing key all at once.
	idHash := sha256.Sum256(idBytes)
	secret, cleanup, err := m.createEntry(ctx, idHash, charge)
	if err != nil {
		return nil, "", err
	}

	// The macaroon carries the hex encoded identifier bytes as its public
	// identifier.
	mac, err := macaroon.New(
		secret[:], []byte(hex.EncodeToString(idBytes)),
		m.cfg.Location, macaroon.LatestVersion,
	)
	if err != nil {
		// Attempt to revoke the ledger entry to save space.
		cleanup(ctx)
		return nil, "", err
	}

	// Restrictions that apply to the LSAT from the moment it is minted:
	// the payment window, the backend path it was bought for and the
	// digest of the body it was minted against. The order is fixed.
	deadline := m.cfg.Now().Add(PaymentWindow).Unix()
	caveats := []lsat.Caveat{
		lsat.NewDeadlineCaveat(deadline),
		lsat.NewPathCaveat(path),
		lsat.NewPayloadCaveat(bodyDigest),
	}
	if err := lsat.AddFirstPartyCaveats(mac, caveats...); err != nil {
		// Attempt to revoke the ledger entry to save space.
		cleanup(ctx)
		return nil, "", err
	}

	log.Debugf("Minted LSAT for path %s with payment hash %v and quota "+
		"of %d msat", path, paymentHash, charge)

	return mac, paymentRequest, nil
}

// createUniqueIdentifier creates a new LSAT identifier bound to a payment
// hash and a randomly generated token ID.
func createUniqueIdentifier(paymentHash lntypes.Hash) ([]byte, error) {
	tokenID, err := generateTokenID()
	if err != nil {
		return nil, err
	}

	id := &lsat.Identifier{
		Version:     lsat.LatestVersion,
		PaymentHash: paymentHash,
		TokenID:     tokenID,
	}

	var buf bytes.Buffer
	if err := lsat.EncodeIdentifier(&buf, id); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// generateTokenID generates a new random LSAT token ID.
func generateTokenID() (lsat.TokenID, error) {
	var tokenID lsat.TokenID
	_, err := rand.Read(tokenID[:])
	return tokenID, err
}

// createEntry creates the ledger entry of a new LSAT and returns its secret
// together with a remover that undoes the creation.
func (m *Mint) createEntry(ctx context.Context, id [sha256.Size]byte,
	quota lnwire.MilliSatoshi) ([lsat.SecretSize]byte, entryRemover,
	error) {

	secret, err := m.cfg.Ledger.NewEntry(ctx, id, quota)
	remover := func(ctx context.Context) {
		_ = m.cfg.Ledger.RevokeEntry(ctx, id)
	}
	return secret, remover, err
}

// VerificationParams holds all of the requirements to properly verify an
// LSAT.
type VerificationParams struct {
	// Macaroon is the macaroon as part of the LSAT we'll attempt to
	// verify.
	Macaroon *macaroon.Macaroon

	// Preimage is the preimage that should correspond to the LSAT's
	// payment hash.
	Preimage lntypes.Preimage

	// TargetPath is the backend path a user of an LSAT is attempting to
	// access.
	TargetPath string

	// BodyDigest is the digest of the request body presented alongside
	// the LSAT. It is compared against the payload caveat for auditing.
	BodyDigest lntypes.Hash
}

// VerifyLSAT attempts to verify an LSAT with the given parameters. On success
// the credential is proven to be one of ours, unexpired, pinned to the target
// path and backed by knowledge of the invoice preimage. Whether the invoice
// was actually settled and whether the quota suffices is decided separately.
func (m *Mint) VerifyLSAT(ctx context.Context,
	params *VerificationParams) error {

	// The macaroon's public identifier carries the hex encoded identity
	// bytes.
	idBytes, err := hex.DecodeString(string(params.Macaroon.Id()))
	if err != nil {
		return fmt.Errorf("malformed macaroon identifier: %v", err)
	}
	id, err := lsat.DecodeIdentifier(bytes.NewReader(idBytes))
	if err != nil {
		return err
	}

	// The ledger entry outliving the credential is what keeps it alive, a
	// miss means the LSAT was fully spent or revoked.
	idHash := sha256.Sum256(idBytes)
	entry, err := m.cfg.Ledger.GetEntry(ctx, idHash)
	if err != nil {
		return err
	}

	// A genuine entry stores the identity digest as its secret. Anything
	// else means the ledger record was fabricated or corrupted and the
	// credential cannot be trusted.
	if entry.Secret != idHash {
		return fmt.Errorf("ledger secret mismatch for token %v",
			&id.TokenID)
	}

	// Check the signature chain and collect the raw caveats while doing
	// so.
	rawCaveats, err := params.Macaroon.VerifySignature(entry.Secret[:], nil)
	if err != nil {
		return err
	}

	// With the signature verified, we'll now inspect the LSAT's caveats.
	caveats := make([]lsat.Caveat, 0, len(rawCaveats))
	for _, rawCaveat := range rawCaveats {
		// LSATs can contain third-party caveats that we're not aware
		// of, so just skip those.
		caveat, err := lsat.DecodeCaveat(rawCaveat)
		if err != nil {
			continue
		}
		caveats = append(caveats, caveat)
	}
	err = lsat.VerifyCaveats(
		caveats,
		lsat.NewDeadlineSatisfier(m.cfg.Now),
		lsat.NewPathSatisfier(params.TargetPath),
		lsat.NewPayloadSatisfier(params.BodyDigest),
	)
	if err != nil {
		return err
	}

	// Finally tie the presented preimage to the payment hash that was
	// baked into the identity at mint time.
	if params.Preimage.Hash() != id.PaymentHash {
		return fmt.Errorf("invalid preimage for payment hash %v",
			id.PaymentHash)
	}

	return nil
}

// Debit charges the price of one request against the LSAT's ledger entry and
// returns the remaining balance. The entry is deleted once its balance
// reaches zero, expiring the credential for good.
func (m *Mint) Debit(ctx context.Context, mac *macaroon.Macaroon,
	amount lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error) {

	idBytes, err := hex.DecodeString(string(mac.Id()))
	if err != nil {
		return 0, fmt.Errorf("malformed macaroon identifier: %v", err)
	}

	return m.cfg.Ledger.Debit(ctx, sha256.Sum256(idBytes), amount)
}
