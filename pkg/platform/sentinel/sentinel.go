// Package sentinel holds the error values stores use to report facts about
// records. Services translate them into coded domain errors.
//
//   - ErrNotFound: no record with that key
//   - ErrAlreadyUsed: key or unique attribute already taken
//   - ErrInvalidState: record exists but is in the wrong state for the write
//   - ErrInsufficient: a balance cannot cover the requested debit
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrInsufficient = errors.New("insufficient balance")
	ErrUnavailable  = errors.New("unavailable")
)
