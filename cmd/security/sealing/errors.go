package sealing

import "errors"

// Public, stable errors for callers.
var (
	ErrPassphraseTooShort = errors.New("sealing passphrase too short")
	ErrInvalidSealed      = errors.New("invalid sealed document")
	ErrOpenFailed         = errors.New("sealed document authentication failed")
	ErrNilSealer          = errors.New("nil sealer")
)
