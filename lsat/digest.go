package lsat

import (
	"crypto/sha256"
	"sort"
	"strings"

	"github.com/lightningnetwork/lnd/lntypes"
)

// DigestFields computes the canonical digest of a flat request body. The
// fields are folded in ascending key order, each as key followed by value
// with no separator, and the concatenation is hashed with SHA-256. The
// result is independent of the order fields arrived in. Field boundaries are
// not encoded, so distinct bodies can collapse to the same digest; since the
// digest only ever serves as an audit record this is accepted.
func DigestFields(fields map[string]string) lntypes.Hash {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var payload strings.Builder
	for _, key := range keys {
		payload.WriteString(key)
		payload.WriteString(fields[key])
	}

	return lntypes.Hash(sha256.Sum256([]byte(payload.String())))
}
