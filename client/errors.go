package client

import "errors"

// Error kinds surfaced by the top-level orchestration API, distinct from
// the sentinel errors each wired package already exposes
// (identity.ErrUnknownSigner, messages.ErrMessageNotFound, ...), which
// propagate through unwrapped.
var (
	ErrGroupNotRegistered = errors.New("client: group is not loaded by this client")
	ErrGroupAlreadyLoaded = errors.New("client: group id is already loaded by this client")
	ErrNilWelcome         = errors.New("client: welcome is nil")
	ErrMissingSigner      = errors.New("client: no signer configured")
	ErrMissingMlsLibrary  = errors.New("client: no MLS library configured")
	ErrMissingTransport   = errors.New("client: no transport configured")
)
