package domain

import "errors"

var (
	// ErrNotFound indicates an unresolvable relay or real number, or a reply
	// with no previous text sender.
	ErrNotFound = errors.New("resource not found")
	// ErrAuthentication indicates a missing or invalid webhook signature.
	ErrAuthentication = errors.New("webhook authentication failed")
	// ErrQuotaExceeded indicates the relay number is out of the requested
	// resource (texts or seconds).
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrBlocked indicates the counterpart is on the relay number's block
	// list. Adapters must convert this into a success-shaped response so a
	// blocked party cannot probe for number existence.
	ErrBlocked = errors.New("contact blocked")
	// ErrReplyPolicy indicates a reply was attempted without the phone log
	// enabled.
	ErrReplyPolicy = errors.New("reply requires phone log")
	// ErrProviderNotFound indicates the carrier no longer has the requested
	// resource. Delete operations treat it as already-done.
	ErrProviderNotFound = errors.New("provider resource not found")
)
