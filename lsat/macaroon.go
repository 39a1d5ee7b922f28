package lsat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/lntypes"
	"gopkg.in/macaroon.v2"
)

const (
	// CondDeadline is the condition of the payment window caveat. Its
	// value is an absolute unix timestamp in seconds and the caveat only
	// holds while the current time is strictly before it. It is the one
	// condition encoded with the "<" operator.
	CondDeadline = "time"

	// CondPath is the condition of the caveat that pins an LSAT to the
	// exact backend path it was minted for.
	CondPath = "path"

	// CondPayload is the condition of the caveat that records the digest
	// of the request body the LSAT was minted against.
	CondPayload = "payload"

	// PreimageKey is the condition of the caveat some clients use to
	// transport the payment preimage within the macaroon itself instead
	// of a separate header value.
	PreimageKey = "preimage"
)

var (
	// ErrInvalidCaveat is an error returned when we attempt to decode a
	// caveat with an invalid format.
	ErrInvalidCaveat = errors.New("caveat must be of the form " +
		"\"condition=value\" or \"condition<value\"")
)

// Caveat is a predicate that can be applied to an LSAT in order to restrict
// its use in some form. Caveats are evaluated during LSAT verification.
type Caveat struct {
	// Condition serves as a way to identify a caveat and how to satisfy
	// it.
	Condition string

	// Value is what will be used to satisfy a caveat. This can be as
	// flexible as needed, as long as it can be encoded into a string.
	Value string
}

// NewCaveat construct a new caveat with the given condition and value.
func NewCaveat(condition string, value string) Caveat {
	return Caveat{Condition: condition, Value: value}
}

// NewDeadlineCaveat returns the caveat restricting use of an LSAT to the time
// strictly before the given absolute unix timestamp.
func NewDeadlineCaveat(deadline int64) Caveat {
	return NewCaveat(CondDeadline, strconv.FormatInt(deadline, 10))
}

// NewPathCaveat returns the caveat pinning an LSAT to the given backend path.
func NewPathCaveat(path string) Caveat {
	return NewCaveat(CondPath, path)
}

// NewPayloadCaveat returns the caveat recording the digest of the request
// body an LSAT was minted against.
func NewPayloadCaveat(digest lntypes.Hash) Caveat {
	return NewCaveat(CondPayload, digest.String())
}

// String returns a user-friendly view of a caveat.
func (c Caveat) String() string {
	return EncodeCaveat(c)
}

// EncodeCaveat encodes a caveat into its string representation. The deadline
// condition encodes with the "<" operator, every other condition with "=".
func EncodeCaveat(c Caveat) string {
	if c.Condition == CondDeadline {
		return fmt.Sprintf("%v<%v", c.Condition, c.Value)
	}
	return fmt.Sprintf("%v=%v", c.Condition, c.Value)
}

// DecodeCaveat decodes a caveat from its string representation.
func DecodeCaveat(s string) (Caveat, error) {
	opIdx := strings.IndexAny(s, "<=")
	if opIdx < 1 || opIdx == len(s)-1 {
		return Caveat{}, ErrInvalidCaveat
	}
	return Caveat{Condition: s[:opIdx], Value: s[opIdx+1:]}, nil
}

// AddFirstPartyCaveats adds a set of caveats as first-party caveats to a
// macaroon.
func AddFirstPartyCaveats(m *macaroon.Macaroon, caveats ...Caveat) error {
	for _, c := range caveats {
		rawCaveat := []byte(EncodeCaveat(c))
		if err := m.AddFirstPartyCaveat(rawCaveat); err != nil {
			return err
		}
	}

	return nil
}

// HasCaveat checks whether the given macaroon has a caveat with the given
// condition, and if it does, returns its value. If multiple caveats with the
// same condition exist, only the value of the first one is returned.
func HasCaveat(m *macaroon.Macaroon, cond string) (string, bool) {
	for _, rawCaveat := range m.Caveats() {
		caveat, err := DecodeCaveat(string(rawCaveat.Id))
		if err != nil {
			// Caveats that cannot be parsed are simply skipped.
			continue
		}
		if caveat.Condition == cond {
			return caveat.Value, true
		}
	}
	return "", false
}
