package service

import "errors"

var (
	// ErrAuthenticationFailed rejects a connection before any session state
	// exists. No registry mutation happens on this path.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrStoreUnavailable wraps a failed backing-store call. The durable
	// write is lost but the triggering in-memory effect proceeds where safe.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMalformedMessage marks a payload missing or violating required
	// fields. The message is discarded; the session is not torn down.
	ErrMalformedMessage = errors.New("malformed message")

	ErrInvalidCredentials = errors.New("invalid credentials")
)
