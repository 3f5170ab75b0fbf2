// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletdb

import "fmt"

// ErrorCode identifies a category of wallet database failure.  Loading
// distinguishes damage that loses key material from damage a rescan can
// repair.
type ErrorCode int

const (
	// ErrDbUnknown is the catch-all for unclassified failures.
	ErrDbUnknown ErrorCode = iota

	// ErrDbCorrupt means a key-bearing record (master key, encrypted
	// key, or HD chain) could not be read.  Continuing would operate
	// a wallet missing keys, so loading fails hard.
	ErrDbCorrupt

	// ErrDbNoncritical means some records were unreadable but no key
	// material was lost.  The wallet is usable; transaction damage is
	// repaired by a rescan.
	ErrDbNoncritical

	// ErrDbTooNew means the database demands a newer software version
	// than this one.
	ErrDbTooNew

	// ErrDbNotFound means a requested record does not exist.
	ErrDbNotFound
)

var errCodeStrings = map[ErrorCode]string{
	ErrDbUnknown:     "ErrDbUnknown",
	ErrDbCorrupt:     "ErrDbCorrupt",
	ErrDbNoncritical: "ErrDbNoncritical",
	ErrDbTooNew:      "ErrDbTooNew",
	ErrDbNotFound:    "ErrDbNotFound",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is the concrete error type returned by this package.
type Error struct {
	ErrorCode   ErrorCode
	Description string
	Err         error
}

// Error satisfies the error interface.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

func dbError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError reports whether err is a walletdb Error with the given code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(Error)
	return ok && e.ErrorCode == code
}
