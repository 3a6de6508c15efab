package groups

import "context"

// IdentityLookup is the extractor's and diff resolver's view of the
// identity update API, scoped to exactly what they need: whether a set of
// installations is authorized for an inbox as of a given association-log
// sequence id, and what installations were added/removed since an older
// sequence id.
type IdentityLookup interface {
	// AuthorizesInstallations reports whether every installationId is a
	// current member of inboxId's association state as of sequenceId.
	AuthorizesInstallations(ctx context.Context, inboxId string, sequenceId uint64, installationIds []string) (bool, error)

	// InstallationsSince returns the installations added to and removed
	// from inboxId's association state strictly after afterSequenceId, and
	// the sequence id of the latest update observed.
	InstallationsSince(ctx context.Context, inboxId string, afterSequenceId uint64) (added []string, removed []string, latestSequenceId uint64, err error)
}
