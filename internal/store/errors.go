package store

import "errors"

var (
	// ErrActiveRunExists is returned by CreateTurnAndJob and by any
	// session/run mutator rejected because a non-terminal run already
	// occupies the (bot, chat) exclusive-active-run slot.
	ErrActiveRunExists = errors.New("store: active run already exists for this chat")

	// ErrNoJob is returned by the lease-claim methods when no job was
	// available to claim, including the CAS-fallback "lost the race" case.
	ErrNoJob = errors.New("store: no job available")

	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrTokenInvalid is returned by ConsumeToken when the token does not
	// exist, has already been consumed, has expired, or does not match
	// the given (bot, chat).
	ErrTokenInvalid = errors.New("store: action token invalid, expired, or already consumed")

	// ErrDuplicateEvent is returned by AppendEvent when (turn_id, seq)
	// already exists — a worker that lost and reclaimed a lease may
	// replay an already-persisted sequence number.
	ErrDuplicateEvent = errors.New("store: duplicate (turn, seq) event")
)
