package groups

import (
	"context"
	"fmt"
)

// MembershipDiff is the set of inbox adds/removes a sync-loop caller has
// already decided on for a desired new membership (e.g. from queued
// UpdateGroupMembership intents), distinct from the diff the extractor
// computes after the fact from the merged commit.
type MembershipDiff struct {
	AddedInboxes   []string
	RemovedInboxes []string
}

// InstallationDiff is what ResolveInstallationDiff produces: installations
// to add to, and remove from, the MLS tree to realize a membership change.
type InstallationDiff struct {
	AddedInstallations   []Installation
	RemovedInstallations []Installation
}

// ResolveInstallationDiff walks, for every inbox in oldMembership and every
// inbox diff adds (minus the inboxes diff removes), its association log from its pinned sequence id in oldMembership to the
// latest known update, collecting installations added and removed.
// Installations belonging to ownInstallationId are filtered from the
// additions — the caller already holds a leaf for itself.
func ResolveInstallationDiff(ctx context.Context, lookup IdentityLookup, oldMembership GroupMembership, diff MembershipDiff, ownInstallationId string) (InstallationDiff, GroupMembership, error) {
	affected := map[string]bool{}
	for _, inbox := range diff.AddedInboxes {
		affected[inbox] = true
	}
	for inbox := range oldMembership {
		affected[inbox] = true
	}
	for _, inbox := range diff.RemovedInboxes {
		delete(affected, inbox)
	}

	result := InstallationDiff{}
	newMembership := oldMembership.Clone()

	for inbox := range affected {
		afterSeq := oldMembership[inbox] // zero value for a brand-new inbox

		added, removed, latest, err := lookup.InstallationsSince(ctx, inbox, afterSeq)
		if err != nil {
			return InstallationDiff{}, nil, fmt.Errorf("resolve installation diff: inbox %s: %w", inbox, err)
		}

		for _, id := range added {
			if id == ownInstallationId {
				continue
			}
			result.AddedInstallations = append(result.AddedInstallations, Installation{InboxId: inbox, InstallationId: id})
		}
		for _, id := range removed {
			result.RemovedInstallations = append(result.RemovedInstallations, Installation{InboxId: inbox, InstallationId: id})
		}

		newMembership[inbox] = latest
	}

	for _, inbox := range diff.RemovedInboxes {
		delete(newMembership, inbox)
	}

	return result, newMembership, nil
}
