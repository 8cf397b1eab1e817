package models

import (
	"fmt"
	"strconv"
	"time"

	dErrors "tariffpub/pkg/domain-errors"
)

// maxEnvelopeCounter is the largest per-year sequence value the YYxxxx format
// can carry.
const maxEnvelopeCounter = 9999

// FormatEnvelopeID renders the YYxxxx wire identifier.
func FormatEnvelopeID(year, counter int) string {
	return fmt.Sprintf("%02d%04d", year%100, counter)
}

// ParseEnvelopeID splits a YYxxxx identifier into its two-digit year and
// counter.
func ParseEnvelopeID(envelopeID string) (year, counter int, err error) {
	if len(envelopeID) != 6 {
		return 0, 0, dErrors.Newf(dErrors.CodeValidation, "malformed envelope id %q", envelopeID)
	}
	year, err = strconv.Atoi(envelopeID[:2])
	if err != nil {
		return 0, 0, dErrors.Newf(dErrors.CodeValidation, "malformed envelope id %q", envelopeID)
	}
	counter, err = strconv.Atoi(envelopeID[2:])
	if err != nil {
		return 0, 0, dErrors.Newf(dErrors.CodeValidation, "malformed envelope id %q", envelopeID)
	}
	return year, counter, nil
}

// NextEnvelopeID computes the identifier following previous for the given
// year. previous is the latest envelope id for the year among successfully
// processed packaged workbaskets, or empty when the year has none, in which
// case the sequence starts at seed. Exceeding the four-digit counter is a
// sequencing failure that pauses packaging; it is never retried.
func NextEnvelopeID(previous string, now time.Time, seed int) (string, error) {
	year := now.UTC().Year()
	if seed < 1 {
		seed = 1
	}
	if previous == "" {
		return FormatEnvelopeID(year, seed), nil
	}

	prevYear, prevCounter, err := ParseEnvelopeID(previous)
	if err != nil {
		return "", err
	}
	if prevYear != year%100 {
		// First envelope of a new year restarts at the seed.
		return FormatEnvelopeID(year, seed), nil
	}
	if prevCounter >= maxEnvelopeCounter {
		return "", dErrors.Newf(dErrors.CodeSequence,
			"envelope counter exhausted for year %02d", year%100)
	}
	return FormatEnvelopeID(year, prevCounter+1), nil
}

// IsSuccessor reports whether candidate immediately follows previous in the
// envelope sequence, accounting for year rollover at the seed.
func IsSuccessor(previous, candidate string, seed int) (bool, error) {
	if seed < 1 {
		seed = 1
	}
	prevYear, prevCounter, err := ParseEnvelopeID(previous)
	if err != nil {
		return false, err
	}
	candYear, candCounter, err := ParseEnvelopeID(candidate)
	if err != nil {
		return false, err
	}
	if candYear == prevYear {
		return candCounter == prevCounter+1, nil
	}
	// Year rollover: the next year's sequence restarts at the seed.
	return candYear == (prevYear+1)%100 && candCounter == seed, nil
}
