package secrets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBFilename is the default file name of the bolt database
	// that holds the LSAT ledger.
	DefaultDBFilename = "lsat-proxy.db"

	// dbFilePermission is the permission the database file is created
	// with.
	dbFilePermission = 0600

	// dbOpenTimeout is how long we wait for the exclusive file lock on
	// the database before giving up.
	dbOpenTimeout = 5 * time.Second

	// TopLevelKey is the namespace prefix under which all LSAT proxy
	// related data is stored.
	TopLevelKey = "lsat/proxy"

	// keyDelimeter is the delimeter we'll use for all ledger keys to
	// represent a path-like structure.
	keyDelimeter = "/"
)

const (
	typeEntryID     tlv.Type = 1
	typeEntrySecret tlv.Type = 3
	typeEntryQuota  tlv.Type = 5
)

var (
	// entriesBucket is the only bucket in the database. Every ledger
	// entry lives in it under its full namespaced key.
	entriesBucket = []byte("entries")

	// secretsPrefix is the key we'll use to prefix all LSAT identifiers
	// with when storing ledger entries.
	secretsPrefix = "secrets"
)

// idKey returns the full key to store in the database for an LSAT identifier.
// The identifier is hex-encoded in order to prevent conflicts with the key
// delimeter.
//
// The resulting key of the identifier digest bff4ee83 would look like:
// lsat/proxy/secrets/bff4ee83
func idKey(id [sha256.Size]byte) []byte {
	key := strings.Join(
		[]string{TopLevelKey, secretsPrefix, hex.EncodeToString(id[:])},
		keyDelimeter,
	)
	return []byte(key)
}

// Store is a ledger of LSAT secrets and spending quotas backed by a bolt
// database. Bolt admits a single writer at a time, which makes every
// read-modify-write cycle below linearizable.
type Store struct {
	db *bolt.DB
}

// A compile-time constraint to ensure Store implements mint.Ledger.
var _ mint.Ledger = (*Store)(nil)

// NewStore opens the bolt database at the given path, creating the file and
// the entries bucket if they don't exist yet.
func NewStore(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, dbFilePermission, &bolt.Options{
		Timeout: dbOpenTimeout,
	})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewReadOnlyStore opens an existing ledger database without taking the
// writer lock, so it can be inspected while the proxy is running.
func NewReadOnlyStore(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, dbFilePermission, &bolt.Options{
		Timeout:  dbOpenTimeout,
		ReadOnly: true,
	})
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewEntry creates the ledger entry for a freshly minted LSAT with the given
// initial quota and returns the stored secret. The secret is the key digest
// itself, so a verifier can tell entries created through the mint apart from
// fabricated ones.
func (s *Store) NewEntry(ctx context.Context, id [sha256.Size]byte,
	quota lnwire.MilliSatoshi) ([lsat.SecretSize]byte, error) {

	var secret [lsat.SecretSize]byte
	if err := ctx.Err(); err != nil {
		return secret, err
	}

	key := idKey(id)
	secret = id
	entry := &mint.Entry{
		ID:     string(key),
		Secret: secret,
		Quota:  quota,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		var buf bytes.Buffer
		if err := serializeEntry(&buf, entry); err != nil {
			return err
		}
		return tx.Bucket(entriesBucket).Put(key, buf.Bytes())
	})
	if err != nil {
		return [lsat.SecretSize]byte{}, err
	}

	return secret, nil
}

// GetEntry returns the ledger entry stored under the given key. If there is
// no entry, mint.ErrSecretNotFound is returned.
func (s *Store) GetEntry(ctx context.Context,
	id [sha256.Size]byte) (*mint.Entry, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *mint.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(entriesBucket).Get(idKey(id))
		if raw == nil {
			return mint.ErrSecretNotFound
		}

		var err error
		entry, err = deserializeEntry(bytes.NewReader(raw))
		return err
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Debit atomically subtracts amount from the quota of the entry stored under
// the given key and returns the remaining balance. The entry is deleted once
// its balance reaches exactly zero. A debit over the remaining balance fails
// with mint.ErrQuotaExceeded and leaves the entry untouched.
func (s *Store) Debit(ctx context.Context, id [sha256.Size]byte,
	amount lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var remaining lnwire.MilliSatoshi
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)
		key := idKey(id)

		raw := bucket.Get(key)
		if raw == nil {
			return mint.ErrSecretNotFound
		}
		entry, err := deserializeEntry(bytes.NewReader(raw))
		if err != nil {
			return err
		}

		if amount > entry.Quota {
			return mint.ErrQuotaExceeded
		}
		entry.Quota -= amount
		remaining = entry.Quota

		// A fully spent entry is removed, the credential can't be
		// used again after that.
		if entry.Quota == 0 {
			log.Debugf("Ledger entry %s fully spent, removing it",
				key)
			return bucket.Delete(key)
		}

		var buf bytes.Buffer
		if err := serializeEntry(&buf, entry); err != nil {
			return err
		}
		return bucket.Put(key, buf.Bytes())
	})
	if err != nil {
		return 0, err
	}

	return remaining, nil
}

// RevokeEntry removes the ledger entry that corresponds to the given key.
// This acts as a NOP if the entry does not exist.
func (s *Store) RevokeEntry(ctx context.Context, id [sha256.Size]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete(idKey(id))
	})
}

// ForEachEntry decodes all ledger entries within a single read transaction
// and invokes cb for each of them.
func (s *Store) ForEachEntry(ctx context.Context,
	cb func(*mint.Entry) error) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(tx *bolt.Tx) error {
		// A read-only handle may point at a database the proxy never
		// initialized.
		bucket := tx.Bucket(entriesBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, v []byte) error {
			entry, err := deserializeEntry(bytes.NewReader(v))
			if err != nil {
				return err
			}
			return cb(entry)
		})
	})
}

// serializeEntry encodes a ledger entry as a tlv stream.
func serializeEntry(w io.Writer, entry *mint.Entry) error {
	id := []byte(entry.ID)
	quota := uint64(entry.Quota)

	tlvStream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeEntryID, &id),
		tlv.MakePrimitiveRecord(typeEntrySecret, &entry.Secret),
		tlv.MakePrimitiveRecord(typeEntryQuota, &quota),
	)
	if err != nil {
		return err
	}

	return tlvStream.Encode(w)
}

// deserializeEntry decodes a ledger entry from its tlv stream.
func deserializeEntry(r io.Reader) (*mint.Entry, error) {
	var (
		entry mint.Entry
		id    []byte
		quota uint64
	)
	tlvStream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeEntryID, &id),
		tlv.MakePrimitiveRecord(typeEntrySecret, &entry.Secret),
		tlv.MakePrimitiveRecord(typeEntryQuota, &quota),
	)
	if err != nil {
		return nil, err
	}

	if err := tlvStream.Decode(r); err != nil {
		return nil, err
	}

	entry.ID = string(id)
	entry.Quota = lnwire.MilliSatoshi(quota)
	return &entry, nil
}
