package syncloop

import "errors"

// Sentinel errors for sync-pass processing. See classifiedError for the
// retry disposition attached to each when it surfaces out of a pass.
var (
	ErrAlreadyProcessed         = errors.New("syncloop: envelope already processed")
	ErrEpochIncrementNotAllowed = errors.New("syncloop: own staged commit is stale against the group's current epoch")
	ErrCommitValidation         = errors.New("syncloop: commit rejected by the permission policy")
	ErrUnexpectedWireFormat     = errors.New("syncloop: envelope deserialized to an unexpected message kind")
	ErrSyncFailedToWait         = errors.New("syncloop: retry budget exhausted waiting for intent resolution")
)

// classifiedError tags an error with its retry disposition, per the
// kind/disposition table: SignatureVerificationFailed, UnknownSigner,
// CommitValidation, and similar policy/validation failures are permanent;
// transport I/O and OpenMlsProcessMessage-style storage/merge failures are
// retryable.
type classifiedError struct {
	err       error
	retryable bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Retryable reports whether the sync loop should retry the pass that
// produced this error (transport I/O, transient store failures) rather
// than classifying it as a permanent rejection.
func (e *classifiedError) Retryable() bool { return e.retryable }

func retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, retryable: true}
}

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, retryable: false}
}

// Retryable reports whether err (or an error it wraps) was classified as
// retryable. An error never passed through retryable or permanent is treated as
// permanent, matching the conservative default of not retrying the
// unexpected.
func Retryable(err error) bool {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}
