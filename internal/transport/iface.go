package transport

import (
	"context"

	"github.com/convomls/core/internal/identity"
	"github.com/convomls/core/internal/mlsiface"
)

// KeyPackageResult pairs an installation with its fetched join material.
type KeyPackageResult struct {
	InstallationId string
	KeyPackage     mlsiface.KeyPackage
	Found          bool
}

// IdentityUpdatesResult is one inbox's slice of the identity log, as
// returned by get_identity_updates.
type IdentityUpdatesResult struct {
	InboxId    string
	Updates    []identity.IdentityUpdate
	SequenceId uint64
}

// AddressInboxMapping is one resolved (or unresolved) address, as returned
// by get_inbox_ids.
type AddressInboxMapping struct {
	Address string
	InboxId string // empty if unresolved
}

// Transport is the abstract wire operations the sync loop depends on. A
// concrete implementation owns protobuf encoding, streaming subscriptions,
// and any blockchain attestation path — all explicitly out of scope here.
type Transport interface {
	Publish(ctx context.Context, envelopes []PayerEnvelope) error
	QueryEnvelopes(ctx context.Context, targetTopic string, afterCursor uint64, limit int) ([]OriginatorEnvelope, error)
	Subscribe(ctx context.Context, topics []string, lastSeen Cursor) (<-chan OriginatorEnvelope, error)
	FetchKeyPackages(ctx context.Context, installationIds []string) ([]KeyPackageResult, error)
	PublishWelcomes(ctx context.Context, welcomes []WelcomeInput) error
	GetIdentityUpdates(ctx context.Context, inboxIds []string, afterSequenceIds map[string]uint64) ([]IdentityUpdatesResult, error)
	GetInboxIds(ctx context.Context, addresses []string) ([]AddressInboxMapping, error)
}
