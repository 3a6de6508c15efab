package identity

import "errors"

// Error kinds surfaced by signature verification and update application.
// All are permanent: they reject the update or signature that triggered
// them without mutating prior state.
var (
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
	ErrUnknownSigner               = errors.New("unknown signer")
	ErrMissingSigner               = errors.New("missing required signer")
	ErrBlockNumberUnresolved       = errors.New("smart contract wallet block number unresolved")
	ErrReplayedSignature           = errors.New("signature already used in a prior update")
	ErrTimestampNotIncreasing      = errors.New("client timestamp did not strictly increase")
	ErrNotFirstCreateInbox         = errors.New("CreateInbox must be the first update for an inbox")
	ErrCreateInboxNotFirst         = errors.New("CreateInbox action may only appear as the first update")
	ErrEmptyActions                = errors.New("identity update must carry at least one action")
	ErrMemberAlreadyExists         = errors.New("identifier is already a member")
	ErrMemberNotFound              = errors.New("identifier is not a member")
	ErrWouldEmptyInbox             = errors.New("update would leave the inbox with no members")
	ErrInstallationAsRecovery      = errors.New("an installation identifier may never be a recovery identifier")
)
