// Package mlsiface declares the external MLS library capability set:
// the core treats the group cipher, tree, and HPKE welcome encryption as an
// already-available collaborator and only depends on this interface.
package mlsiface

import (
	"context"

	"github.com/convomls/core/internal/groups"
)

// KeyPackage is an installation's published join material, fetched via
// fetch_key_packages.
type KeyPackage struct {
	InstallationId string
	Payload        []byte
}

// MemberLeaf is one occupied MLS tree leaf.
type MemberLeaf struct {
	LeafIndex      int
	InboxId        string
	InstallationId string
}

// ProcessedKind tags what process_message returned.
type ProcessedKind int

const (
	ProcessedApplication ProcessedKind = iota
	ProcessedProposal
	ProcessedStagedCommit
)

// ProcessedMessage is process_message's result.
type ProcessedMessage struct {
	Kind            ProcessedKind
	ApplicationData []byte
	StagedCommit    StagedCommit
}

// StagedCommit is an opaque pending commit produced either locally (by
// UpdateGroupMembership/UpdateGroupContextExtensions/SelfUpdate) or by
// processing a remote commit envelope; it carries the GroupView the commit
// would move the group to, which the Validated Commit Extractor
// reads.
type StagedCommit struct {
	SenderInstallationId string
	Resulting            groups.GroupView
	token                []byte // opaque MLS handle; unused by the core
}

// Commit is the wire payload for a staged commit.
type Commit struct {
	Payload []byte
}

// Welcome is the wire payload sent to new installations.
type Welcome struct {
	Payload    []byte
	Recipients []string
}

// Signer authenticates operations against a specific installation.
type Signer interface {
	InboxId() string
	InstallationId() string
}

// MlsGroup is the per-group capability set the sync loop drives.
type MlsGroup interface {
	GroupId() string
	Epoch() uint64
	Extensions() groups.GroupView
	Members() []MemberLeaf
	MemberAt(leaf int) (MemberLeaf, error)

	CreateMessage(ctx context.Context, signer Signer, payload []byte) (Commit, error)
	SelfUpdate(ctx context.Context, signer Signer) (Commit, error)
	UpdateGroupMembership(ctx context.Context, signer Signer, newKeyPackages []KeyPackage, leavesToRemove []int, newExtensions groups.GroupView) (Commit, *Welcome, error)
	UpdateGroupContextExtensions(ctx context.Context, signer Signer, newExtensions groups.GroupView) (Commit, error)

	ProcessMessage(ctx context.Context, envelope []byte) (ProcessedMessage, error)
	MergeStagedCommit(sc StagedCommit) error
	PendingCommit() (StagedCommit, bool)
	ClearPendingCommit()
}

// Library loads a client's MLS groups.
type Library interface {
	LoadGroup(ctx context.Context, groupId string) (MlsGroup, error)
	CreateGroup(ctx context.Context, groupId string, creator Signer, initial groups.GroupView) (MlsGroup, error)

	// Join installs a local replica of the group a Welcome was addressed
	// to, as produced by another member's UpdateGroupMembership call.
	Join(ctx context.Context, welcome *Welcome) (MlsGroup, error)
}
