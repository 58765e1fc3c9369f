package domain

import "errors"

var (
	// ErrConfiguration means a prompt template is missing or unresolvable.
	ErrConfiguration = errors.New("configuration error")
	// ErrModelInvocation means the model call itself failed (network, auth, quota).
	ErrModelInvocation = errors.New("model invocation failed")
	// ErrValidation means the model answered with JSON that does not match the
	// requested schema.
	ErrValidation = errors.New("model response failed validation")
	// ErrStoreUnavailable means the correction store could not be read or written.
	ErrStoreUnavailable = errors.New("correction store unavailable")
)
