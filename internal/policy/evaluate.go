package policy

// Actor is the authenticated sender of a commit being evaluated.
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

// DMPairing pins a group to exactly two inboxes, its fixed membership for
// the lifetime of a direct-message conversation.
type DMPairing struct {
	MemberOne string
	MemberTwo string
}

// CommitView is the subset of a validated commit the policy engine needs.
// evaluate_commit is a pure function of these fields alone.
type CommitView struct {
	Actor Actor

	AddedInboxes       []string
	RemovedInboxes     []string
	RemovedSuperAdmins map[string]bool // subset of RemovedInboxes flagged super-admin before removal

	MetadataChanges []MetadataFieldChange

	AdminsAdded        []string
	AdminsRemoved      []string
	SuperAdminsAdded   []string
	SuperAdminsRemoved []string

	// PostCommitSuperAdminCount is the number of super-admins remaining
	// after this commit is applied.
	PostCommitSuperAdminCount int

	PermissionsChanged bool

	DM *DMPairing
}

// EvaluateCommit returns true iff every applicable predicate of ps holds
// for commit.
func EvaluateCommit(ps PolicySet, commit CommitView) bool {
	for _, added := range commit.AddedInboxes {
		if len(commit.AddedInboxes) == 1 && dmAllowsAdd(commit.DM, commit.Actor.InboxId, added) {
			continue
		}
		if !evalMembership(ps.AddMemberPolicy, commit.Actor, added) {
			return false
		}
	}

	for _, removed := range commit.RemovedInboxes {
		if commit.RemovedSuperAdmins[removed] {
			return false
		}
		if !evalMembership(ps.RemoveMemberPolicy, commit.Actor, removed) {
			return false
		}
	}

	for _, change := range commit.MetadataChanges {
		fieldPolicy := ps.metadataPolicyFor(change.FieldName)
		if !evalMetadata(fieldPolicy, commit.Actor, commit.Actor.InboxId) {
			return false
		}
	}

	if len(commit.AdminsAdded) > 0 && !evalPermissions(ps.AddAdminPolicy, commit.Actor) {
		return false
	}
	if len(commit.AdminsRemoved) > 0 && !evalPermissions(ps.RemoveAdminPolicy, commit.Actor) {
		return false
	}

	if len(commit.SuperAdminsAdded) > 0 && !commit.Actor.IsSuperAdmin {
		return false
	}
	if len(commit.SuperAdminsRemoved) > 0 {
		if !commit.Actor.IsSuperAdmin || commit.PostCommitSuperAdminCount < 1 {
			return false
		}
	}

	if commit.PermissionsChanged && !commit.Actor.IsSuperAdmin {
		return false
	}

	return true
}

// dmAllowsAdd implements the DM exception: a single addition of the
// pairing's other member, by the pairing's member, is accepted
// unconditionally.
func dmAllowsAdd(dm *DMPairing, actorInbox, added string) bool {
	if dm == nil {
		return false
	}
	if added == actorInbox {
		return false
	}
	if actorInbox != dm.MemberOne && actorInbox != dm.MemberTwo {
		return false
	}
	return added == dm.MemberOne || added == dm.MemberTwo
}

func evalBase(b BaseKind, actor Actor, subjectEqualsActor bool) bool {
	switch b {
	case BaseAllow:
		return true
	case BaseDeny:
		return false
	case BaseAllowSameMember:
		return subjectEqualsActor
	case BaseAllowIfAdminOrSuperAdmin:
		return actor.IsAdmin || actor.IsSuperAdmin
	case BaseAllowIfSuperAdmin:
		return actor.IsSuperAdmin
	default:
		return false
	}
}

func evalMembership(p MembershipPolicy, actor Actor, subjectInbox string) bool {
	return evalTree(p, actor, subjectInbox == actor.InboxId)
}

func evalMetadata(p MetadataPolicy, actor Actor, subjectInbox string) bool {
	return evalTree(p, actor, subjectInbox == actor.InboxId)
}

func evalPermissions(p PermissionsPolicy, actor Actor) bool {
	return evalTree(p, actor, false)
}

func evalTree(p Policy, actor Actor, subjectEqualsActor bool) bool {
	switch p.Kind {
	case KindBase:
		return evalBase(p.Base, actor, subjectEqualsActor)
	case KindAnd:
		for _, c := range p.Children {
			if !evalTree(c, actor, subjectEqualsActor) {
				return false
			}
		}
		return true
	case KindAny:
		for _, c := range p.Children {
			if evalTree(c, actor, subjectEqualsActor) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
