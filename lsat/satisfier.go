package lsat

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
)

// Satisfier provides a generic interface to satisfy a caveat based on its
// condition.
type Satisfier struct {
	// Condition is the condition of the caveat we'll attempt to satisfy.
	Condition string

	// SatisfyPrevious ensures a caveat is in accordance with a previous
	// one with the same condition. This is needed since caveats of the
	// same condition can be used multiple times as long as they enforce
	// more restrictions than the previous.
	SatisfyPrevious func(previous Caveat, current Caveat) error

	// SatisfyFinal satisfies the final caveat of an LSAT. If multiple
	// caveats with the same condition exist, this will only be executed
	// once all previous caveats are also satisfied.
	SatisfyFinal func(Caveat) error
}

// NewDeadlineSatisfier implements a satisfier for the payment window caveat.
// Every deadline must lie strictly in the future of the given time source and
// successive deadline caveats may only tighten, never extend, the window.
func NewDeadlineSatisfier(now func() time.Time) Satisfier {
	return Satisfier{
		Condition: CondDeadline,

		SatisfyPrevious: func(prev, cur Caveat) error {
			prevDeadline, err := parseDeadline(prev)
			if err != nil {
				return err
			}
			curDeadline, err := parseDeadline(cur)
			if err != nil {
				return err
			}

			// Successive deadlines must be equally or more
			// restrictive than previous ones.
			if curDeadline > prevDeadline {
				return fmt.Errorf("%s caveat violates "+
					"increasing restrictiveness",
					CondDeadline)
			}

			return nil
		},

		SatisfyFinal: func(c Caveat) error {
			deadline, err := parseDeadline(c)
			if err != nil {
				return err
			}

			if now().Unix() >= deadline {
				return fmt.Errorf("deadline %d has passed",
					deadline)
			}

			return nil
		},
	}
}

// NewPathSatisfier implements a satisfier to determine whether an LSAT grants
// access to the given backend path. The match is exact and a path caveat can
// never be rewritten by appending another one.
func NewPathSatisfier(path string) Satisfier {
	return Satisfier{
		Condition: CondPath,

		SatisfyPrevious: func(prev, cur Caveat) error {
			if prev.Value != cur.Value {
				return fmt.Errorf("%s caveat violates "+
					"increasing restrictiveness", CondPath)
			}
			return nil
		},

		SatisfyFinal: func(c Caveat) error {
			if c.Value != path {
				return fmt.Errorf("not authorized for path %s",
					path)
			}
			return nil
		},
	}
}

// NewPayloadSatisfier implements the relaxed satisfier for the request body
// digest caveat. The digest is recomputed from the presented body and
// compared but a mismatch is only logged, never fatal, so that a credential
// bought with one body can amortize its quota over differing requests. The
// caveat remains an audit record of what the LSAT was originally minted for.
func NewPayloadSatisfier(digest lntypes.Hash) Satisfier {
	return Satisfier{
		Condition: CondPayload,

		SatisfyPrevious: func(prev, cur Caveat) error {
			return nil
		},

		SatisfyFinal: func(c Caveat) error {
			if c.Value != digest.String() {
				log.Debugf("Payload digest mismatch: caveat "+
					"carries %s, request computes to %s",
					c.Value, digest)
			}
			return nil
		},
	}
}

// VerifyCaveats determines whether every relevant caveat of an LSAT is
// properly satisfied by the given satisfiers. Caveats without a matching
// satisfier are skipped, since LSATs can be attenuated with third-party
// caveats we are not aware of.
func VerifyCaveats(caveats []Caveat, satisfiers ...Satisfier) error {
	// Construct a set of our satisfiers to determine which caveats we
	// know how to satisfy.
	caveatSatisfiers := make(map[string]Satisfier, len(satisfiers))
	for _, satisfier := range satisfiers {
		caveatSatisfiers[satisfier.Condition] = satisfier
	}
	relevantCaveats := make(map[string][]Caveat)
	for _, caveat := range caveats {
		if _, ok := caveatSatisfiers[caveat.Condition]; !ok {
			continue
		}
		relevantCaveats[caveat.Condition] = append(
			relevantCaveats[caveat.Condition], caveat,
		)
	}

	for condition, caveats := range relevantCaveats {
		satisfier := caveatSatisfiers[condition]

		// Since it's possible for a caveat of the same condition to be
		// repeated, we'll ensure each one satisfies its previous.
		for i, j := 0, 1; j < len(caveats); i, j = i+1, j+1 {
			err := satisfier.SatisfyPrevious(caveats[i], caveats[j])
			if err != nil {
				return err
			}
		}

		// Once we verify the previous ones, if any, we can proceed to
		// verify the final one, which is the decisive one.
		if err := satisfier.SatisfyFinal(caveats[len(caveats)-1]); err != nil {
			return err
		}
	}

	return nil
}

// parseDeadline parses the unix timestamp value of a deadline caveat.
func parseDeadline(c Caveat) (int64, error) {
	deadline, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("caveat value not a valid timestamp: %v",
			err)
	}
	return deadline, nil
}
