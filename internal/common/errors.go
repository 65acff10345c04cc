// Package common defines shared constants and sentinel errors used across
// the agent and server halves of casesync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Record store errors.
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("record store unavailable")

	// Queue state machine errors.
	ErrInvalidState  = errors.New("invalid queue state for operation")
	ErrRecordNotDone = errors.New("record is not finished")
	ErrCancelled     = errors.New("transfer cancelled")

	// Dispatch server errors, as classified by the transfer channel.
	ErrNoConnection       = errors.New("dispatch server unreachable")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrContentRejected    = errors.New("payload rejected by dispatch server")
	ErrBadChunkOffset     = errors.New("chunk offset mismatch")

	// Auth errors (server side).
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// SessionTokenHeaderName is the HTTP header carrying the dispatch session
// token on authenticated requests.
const SessionTokenHeaderName = "X-Session-Token"
