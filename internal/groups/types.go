// Package groups implements the Group State Machine: the Validated Commit
// Extractor and Installation Diff Resolver that sit between
// the MLS library's staged commits and the permission policy engine.
package groups

import (
	"github.com/convomls/core/internal/policy"
)

// GroupId is the opaque group identifier.
type GroupId string

// GroupMembership pins each member inbox to the sequence id of its
// association log last consumed when the membership was resolved.
type GroupMembership map[string]uint64

// Clone returns an independent copy.
func (m GroupMembership) Clone() GroupMembership {
	out := make(GroupMembership, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GroupMutableMetadata is the group's field/admin-list extension.
type GroupMutableMetadata struct {
	Fields      map[string]string
	Admins      []string
	SuperAdmins []string
}

func (m GroupMutableMetadata) isAdmin(inbox string) bool {
	for _, a := range m.Admins {
		if a == inbox {
			return true
		}
	}
	return false
}

func (m GroupMutableMetadata) isSuperAdmin(inbox string) bool {
	for _, a := range m.SuperAdmins {
		if a == inbox {
			return true
		}
	}
	return false
}

// GroupMutablePermissions is the group's policy extension.
type GroupMutablePermissions struct {
	PolicySet policy.PolicySet
}

// DMPairing marks a group as a direct message between exactly two inboxes.
type DMPairing struct {
	MemberOne string
	MemberTwo string
}

// Installation is one MLS tree leaf: an installation identifier bound to
// the inbox that authorized it.
type Installation struct {
	InboxId        string
	InstallationId string
}

// GroupView is the slice of a group's MLS-extension state the extractor and
// diff resolver need — old or new, before or after a commit.
type GroupView struct {
	Epoch         uint64
	Installations []Installation
	Membership    GroupMembership
	Metadata      GroupMutableMetadata
	Permissions   GroupMutablePermissions
	DM            *DMPairing
}

func (g GroupView) installationsByInbox() map[string][]string {
	out := map[string][]string{}
	for _, inst := range g.Installations {
		out[inst.InboxId] = append(out[inst.InboxId], inst.InstallationId)
	}
	return out
}

func (g GroupView) installationSet() map[string]string {
	out := map[string]string{}
	for _, inst := range g.Installations {
		out[inst.InstallationId] = inst.InboxId
	}
	return out
}

// Actor is the authenticated sender of a commit, resolved from the MLS
// leaf plus the group's admin lists.
type Actor struct {
	InboxId      string
	Installation string
	IsAdmin      bool
	IsSuperAdmin bool
}

// MetadataFieldChange is one group_mutable_metadata field mutation.
type MetadataFieldChange struct {
	FieldName string
	OldValue  string
	NewValue  string
}

// ValidatedCommit is the record the sync loop hands to the policy
// engine and, on acceptance, merges into local state.
type ValidatedCommit struct {
	Actor Actor

	AddedInboxes         []string
	RemovedInboxes       []string
	RemovedSuperAdmins   map[string]bool
	ReaddedInstallations []Installation

	MetadataChanges []MetadataFieldChange

	AdminsAdded        []string
	AdminsRemoved      []string
	SuperAdminsAdded   []string
	SuperAdminsRemoved []string

	PostCommitSuperAdminCount int

	InstallationsChanged bool
	PermissionsChanged   bool

	DM *DMPairing
}

// ToCommitView projects a ValidatedCommit onto the decoupled shape the
// policy package evaluates, keeping groups -> policy a one-way dependency.
func (vc ValidatedCommit) ToCommitView() policy.CommitView {
	var dm *policy.DMPairing
	if vc.DM != nil {
		dm = &policy.DMPairing{MemberOne: vc.DM.MemberOne, MemberTwo: vc.DM.MemberTwo}
	}
	changes := make([]policy.MetadataFieldChange, len(vc.MetadataChanges))
	for i, c := range vc.MetadataChanges {
		changes[i] = policy.MetadataFieldChange{FieldName: c.FieldName, OldValue: c.OldValue, NewValue: c.NewValue}
	}
	return policy.CommitView{
		Actor: policy.Actor{
			InboxId:      vc.Actor.InboxId,
			Installation: vc.Actor.Installation,
			IsAdmin:      vc.Actor.IsAdmin,
			IsSuperAdmin: vc.Actor.IsSuperAdmin,
		},
		AddedInboxes:              vc.AddedInboxes,
		RemovedInboxes:             vc.RemovedInboxes,
		RemovedSuperAdmins:         vc.RemovedSuperAdmins,
		MetadataChanges:            changes,
		AdminsAdded:                vc.AdminsAdded,
		AdminsRemoved:              vc.AdminsRemoved,
		SuperAdminsAdded:           vc.SuperAdminsAdded,
		SuperAdminsRemoved:         vc.SuperAdminsRemoved,
		PostCommitSuperAdminCount:  vc.PostCommitSuperAdminCount,
		PermissionsChanged:         vc.PermissionsChanged,
		DM:                         dm,
	}
}

// Evaluate runs the permission policy engine against this commit.
func (vc ValidatedCommit) Evaluate(ps policy.PolicySet) bool {
	return policy.EvaluateCommit(ps, vc.ToCommitView())
}
