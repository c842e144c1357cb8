package models

import (
	"errors"
	"fmt"
)

// ErrAppendContention is returned when an append lost the optimistic
// concurrency race more times than the retry budget allows. The chain is
// intact; the caller may retry later.
var ErrAppendContention = errors.New("append contention: retry budget exhausted")

// UnverifiedRangeError refuses an export of a range that fails verification.
// It carries the first break point so operators can investigate. A broken
// chain is evidence of tampering or a bug and is never repaired in place.
type UnverifiedRangeError struct {
	Break BreakPoint
}

func (e *UnverifiedRangeError) Error() string {
	return fmt.Sprintf("unverified range: chain broken at sequence %d (%s)",
		e.Break.SequenceNumber, e.Break.Reason)
}

// EncodingError rejects an entry that cannot be canonicalized. It is raised
// before any write occurs, so a malformed event never reaches the chain.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: %s: %s", e.Field, e.Reason)
}
