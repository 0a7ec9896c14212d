package arena

import "github.com/cockroachdb/errors"

var (
	// ErrConfiguration is matched by errors resulting from an invalid request: an alignment that is
	// zero or not a power of two, or a size that is not positive.
	ErrConfiguration = errors.New("invalid arena configuration")
	// ErrExhausted is matched by errors resulting from an allocation that no free block in the arena
	// is large enough to satisfy. Arenas never grow, so this indicates an undersized arena.
	ErrExhausted = errors.New("arena exhausted")
	// ErrProtocolViolation is matched by errors resulting from misuse of the arena: freeing a token
	// that is not a live allocation of this arena, destroying an arena with outstanding
	// allocations, or using an arena after it has been destroyed.
	ErrProtocolViolation = errors.New("arena protocol violation")
)
