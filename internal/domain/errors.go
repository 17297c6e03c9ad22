package domain

import "errors"

// Failure taxonomy for the coordination subsystem. Handlers translate
// these into transport responses; races that stem from a peer leaving
// mid-action are logged and swallowed instead (see ErrPeerUnreachable).
var (
	// ErrInvalidInput rejects a malformed create/invite request with no side effects.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotInvited is returned on accept/join by a user with no participant row.
	ErrNotInvited = errors.New("not invited")

	// ErrPartyNotFound is returned when the party id resolves to nothing.
	ErrPartyNotFound = errors.New("party not found")

	// ErrPartyEnded rejects any mutating call on a terminal party.
	ErrPartyEnded = errors.New("party ended")

	// ErrPartyFull bounds the full mesh; joins beyond the limit are rejected.
	ErrPartyFull = errors.New("party full")

	// ErrNotAuthorized covers relays between handles that are not in the
	// same party, or a handle the registry no longer knows.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrPeerUnreachable is soft: the other side of an exchange left
	// mid-flight. Routine, never surfaced to the whole room.
	ErrPeerUnreachable = errors.New("peer unreachable")
)
