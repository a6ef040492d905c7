package protection

import "github.com/pkg/errors"

// ErrUnregisteredValidator is returned when a signing request names a public
// key that was never registered with the engine. This is an operator error,
// not a slashing denial: the caller must surface it rather than fall back to
// signing without protection.
var ErrUnregisteredValidator = errors.New("validator is not registered with slashing protection")
