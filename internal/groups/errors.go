package groups

import "errors"

// Error kinds surfaced by the extractor and diff resolver.
var (
	ErrInvalidSender        = errors.New("groups: commit sender leaf is not a member of the prior group state")
	ErrSmuggledInstallation = errors.New("groups: added inbox's association log does not authorize the installation introduced for it")
	ErrMissingSequenceId    = errors.New("groups: inbox has no recorded association-log sequence id")
	ErrWrongCredentialType  = errors.New("groups: commit carries an unexpected credential type")
)
