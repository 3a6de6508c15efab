package groups

import (
	"context"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

// ExtractValidatedCommit takes the group's state before and after a staged
// MLS commit, plus the authenticated sender leaf, and computes the
// ValidatedCommit the sync loop will evaluate against the policy engine.
//
// senderInstallationId identifies the commit's authenticated sender leaf;
// its inbox and admin/super-admin flags are resolved against next, the
// post-commit state (admin lists reflect the new state). log, if non-nil,
// receives one audit line per changed metadata field with a human-readable
// diff of the old and new values; it may be nil.
func ExtractValidatedCommit(ctx context.Context, lookup IdentityLookup, prior, next GroupView, senderInstallationId string, log *zap.Logger) (*ValidatedCommit, error) {
	senderInbox, ok := next.installationSet()[senderInstallationId]
	if !ok {
		return nil, fmt.Errorf("extract validated commit: %w", ErrInvalidSender)
	}

	actor := Actor{
		InboxId:      senderInbox,
		Installation: senderInstallationId,
		IsAdmin:      next.Metadata.isAdmin(senderInbox),
		IsSuperAdmin: next.Metadata.isSuperAdmin(senderInbox),
	}

	addedInboxes, removedInboxes := diffMembershipInboxes(prior.Membership, next.Membership)
	removedSuperAdmins := map[string]bool{}
	for _, inbox := range removedInboxes {
		if prior.Metadata.isSuperAdmin(inbox) {
			removedSuperAdmins[inbox] = true
		}
	}

	readded, installationsChanged, err := diffInstallations(prior, next, addedInboxes)
	if err != nil {
		return nil, err
	}

	for _, addedInbox := range addedInboxes {
		installedFor := next.installationsByInbox()[addedInbox]
		seqId := next.Membership[addedInbox]
		authorized, err := lookup.AuthorizesInstallations(ctx, addedInbox, seqId, installedFor)
		if err != nil {
			return nil, fmt.Errorf("extract validated commit: verify installations for %s: %w", addedInbox, err)
		}
		if !authorized {
			return nil, fmt.Errorf("extract validated commit: inbox %s: %w", addedInbox, ErrSmuggledInstallation)
		}
	}

	metadataChanges := diffMetadataFields(prior.Metadata.Fields, next.Metadata.Fields)
	if log != nil {
		for _, change := range metadataChanges {
			log.Info("group metadata field changed",
				zap.String("field", change.FieldName),
				zap.String("diff", renderFieldDiff(change.OldValue, change.NewValue)),
			)
		}
	}
	adminsAdded, adminsRemoved := diffStringSets(prior.Metadata.Admins, next.Metadata.Admins)
	superAdminsAdded, superAdminsRemoved := diffStringSets(prior.Metadata.SuperAdmins, next.Metadata.SuperAdmins)

	permissionsChanged := !prior.Permissions.PolicySet.Equal(next.Permissions.PolicySet)

	return &ValidatedCommit{
		Actor:                     actor,
		AddedInboxes:              addedInboxes,
		RemovedInboxes:            removedInboxes,
		RemovedSuperAdmins:        removedSuperAdmins,
		ReaddedInstallations:      readded,
		MetadataChanges:           metadataChanges,
		AdminsAdded:               adminsAdded,
		AdminsRemoved:             adminsRemoved,
		SuperAdminsAdded:          superAdminsAdded,
		SuperAdminsRemoved:        superAdminsRemoved,
		PostCommitSuperAdminCount: len(next.Metadata.SuperAdmins),
		InstallationsChanged:      installationsChanged,
		PermissionsChanged:        permissionsChanged,
		DM:                        next.DM,
	}, nil
}

// renderFieldDiff produces a human-readable diff of a single metadata
// field's old and new values, for audit logging only — it plays no part in
// the policy decision itself.
func renderFieldDiff(oldVal, newVal string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldVal, newVal, false)
	return dmp.DiffPrettyText(diffs)
}

func diffMembershipInboxes(prior, next GroupMembership) (added, removed []string) {
	for inbox := range next {
		if _, ok := prior[inbox]; !ok {
			added = append(added, inbox)
		}
	}
	for inbox := range prior {
		if _, ok := next[inbox]; !ok {
			removed = append(removed, inbox)
		}
	}
	return added, removed
}

// diffInstallations splits new installations into those belonging to a
// brand-new inbox (not "readded") versus installations added for an inbox
// that was already a member — the latter are readded_installations and do
// not count as inbox adds.
func diffInstallations(prior, next GroupView, addedInboxes []string) (readded []Installation, changed bool, err error) {
	isNewInbox := make(map[string]bool, len(addedInboxes))
	for _, inbox := range addedInboxes {
		isNewInbox[inbox] = true
	}

	priorSet := prior.installationSet()
	for _, inst := range next.Installations {
		if _, existed := priorSet[inst.InstallationId]; existed {
			continue
		}
		changed = true
		if !isNewInbox[inst.InboxId] {
			readded = append(readded, inst)
		}
	}

	nextSet := next.installationSet()
	for id := range priorSet {
		if _, still := nextSet[id]; !still {
			changed = true
		}
	}

	return readded, changed, nil
}

func diffMetadataFields(prior, next map[string]string) []MetadataFieldChange {
	var changes []MetadataFieldChange
	seen := map[string]bool{}
	for field, newVal := range next {
		seen[field] = true
		if oldVal, ok := prior[field]; !ok || oldVal != newVal {
			changes = append(changes, MetadataFieldChange{FieldName: field, OldValue: prior[field], NewValue: newVal})
		}
	}
	for field, oldVal := range prior {
		if seen[field] {
			continue
		}
		changes = append(changes, MetadataFieldChange{FieldName: field, OldValue: oldVal, NewValue: ""})
	}
	return changes
}

func diffStringSets(prior, next []string) (added, removed []string) {
	priorSet := map[string]bool{}
	for _, s := range prior {
		priorSet[s] = true
	}
	nextSet := map[string]bool{}
	for _, s := range next {
		nextSet[s] = true
		if !priorSet[s] {
			added = append(added, s)
		}
	}
	for _, s := range prior {
		if !nextSet[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}
