// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2021 Dropgate Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault

// error base
type GenericError string

// to allow for different classes of errors
type ExistsError GenericError
type InvalidError GenericError
type NotFoundError GenericError
type ProcessError GenericError
type RetryableError GenericError

// common errors - keep in alphabetic order
var (
	ErrAlreadyInitialised       = ExistsError("already initialised")
	ErrCheckpointCorrupted      = ProcessError("checkpoint record is corrupted")
	ErrInvalidCount             = InvalidError("count is invalid")
	ErrInvalidDifficulty        = InvalidError("difficulty is invalid")
	ErrInvalidIdentity          = InvalidError("identity is invalid")
	ErrInvalidInventoryFile     = InvalidError("inventory file is invalid")
	ErrInvalidItemIndex         = InvalidError("item index is invalid")
	ErrInvalidLoggerChannel     = InvalidError("invalid logger channel")
	ErrInvalidPaymentAddress    = InvalidError("payment address is invalid")
	ErrInvalidStructPointer     = InvalidError("invalid struct pointer")
	ErrKeyLength                = InvalidError("key length is invalid")
	ErrLedgerWriteExhausted     = ProcessError("ledger write retries exhausted")
	ErrLedgerWriteFailure       = RetryableError("ledger write failed")
	ErrNotAToken                = InvalidError("not a token")
	ErrNotInitialised           = NotFoundError("not initialised")
	ErrPoWInvalid               = InvalidError("proof of work is invalid")
	ErrQuotaExceeded            = ProcessError("identity quota exceeded")
	ErrRateLimiting             = ProcessError("rate limiting active")
	ErrReconciliationMismatch   = ProcessError("ledger count does not match expected count")
	ErrReplayDetected           = ExistsError("token or transaction reference already used")
	ErrRequiredAdmissionSecret  = InvalidError("admission secret is required")
	ErrRequiredConfigFile       = InvalidError("config file is required")
	ErrRequiredInventoryFile    = InvalidError("inventory file is required")
	ErrRequiredLedgerURL        = InvalidError("ledger url is required")
	ErrSoldOut                  = ProcessError("supply is exhausted")
	ErrTokenExpired             = InvalidError("token has expired")
	ErrTokenForged              = InvalidError("token integrity tag is invalid")
	ErrUnexpectedInventoryIndex = InvalidError("inventory indices are not contiguous")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e ExistsError) Error() string    { return string(e) }
func (e InvalidError) Error() string   { return string(e) }
func (e NotFoundError) Error() string  { return string(e) }
func (e ProcessError) Error() string   { return string(e) }
func (e RetryableError) Error() string { return string(e) }

// determine the class of an error
func IsErrExists(e error) bool    { _, ok := e.(ExistsError); return ok }
func IsErrInvalid(e error) bool   { _, ok := e.(InvalidError); return ok }
func IsErrNotFound(e error) bool  { _, ok := e.(NotFoundError); return ok }
func IsErrProcess(e error) bool   { _, ok := e.(ProcessError); return ok }
func IsErrRetryable(e error) bool { _, ok := e.(RetryableError); return ok }
