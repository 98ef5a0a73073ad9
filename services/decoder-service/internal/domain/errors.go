package domain

import "errors"

var (
	// ErrCannotDecode means the data is empty or no known ABI matches it
	ErrCannotDecode = errors.New("cannot decode data")

	// ErrUnexpectedProblemDecoding means an ABI matched but decoding the
	// payload failed, likely malformed calldata
	ErrUnexpectedProblemDecoding = errors.New("unexpected problem decoding data")

	// ErrNotFound is returned by lookups when the row does not exist
	ErrNotFound = errors.New("not found")
)
