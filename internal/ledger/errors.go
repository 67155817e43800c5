package ledger

import "errors"

// Policy violations. Each is detected before any state is written, so
// a failed call has no observable effect.
var (
	// ErrAlreadySubmitted is returned when a principal submits twice.
	ErrAlreadySubmitted = errors.New("principal already submitted")

	// ErrNoSalariesSubmitted is returned when an average is requested
	// before any submission. It doubles as the division-by-zero guard:
	// the engine's plaintext division is undefined for a zero divisor.
	ErrNoSalariesSubmitted = errors.New("no salaries submitted")

	// ErrNoPendingDecryption is returned when a verification arrives
	// for a requester with no outstanding request.
	ErrNoPendingDecryption = errors.New("no pending decryption request")

	// ErrHandleAlreadyUsed is returned when a decryption result for an
	// already-consumed handle is replayed.
	ErrHandleAlreadyUsed = errors.New("handle already used")
)
