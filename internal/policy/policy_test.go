package policy

import "testing"

func TestDMAddException(t *testing.T) {
	ps := ToPolicySet(PresetDM)
	commit := CommitView{
		Actor:        Actor{InboxId: "A"},
		AddedInboxes: []string{"B"},
		DM:           &DMPairing{MemberOne: "A", MemberTwo: "B"},
	}
	if !EvaluateCommit(ps, commit) {
		t.Fatal("expected DM single-add exception to accept the commit")
	}
}

func TestDMDeniesNonPairingAdd(t *testing.T) {
	ps := ToPolicySet(PresetDM)
	commit := CommitView{
		Actor:        Actor{InboxId: "A"},
		AddedInboxes: []string{"C"},
		DM:           &DMPairing{MemberOne: "A", MemberTwo: "B"},
	}
	if EvaluateCommit(ps, commit) {
		t.Fatal("expected non-pairing add to be denied under DM")
	}
}

func TestRemovedSuperAdminAlwaysRejected(t *testing.T) {
	ps := ToPolicySet(PresetAdminsOnly)
	commit := CommitView{
		Actor:              Actor{InboxId: "A", IsAdmin: true},
		RemovedInboxes:     []string{"B"},
		RemovedSuperAdmins: map[string]bool{"B": true},
	}
	if EvaluateCommit(ps, commit) {
		t.Fatal("removing a super-admin must never be allowed via remove_member_policy alone")
	}
}

func TestSuperAdminRemovalRequiresNonEmptySet(t *testing.T) {
	ps := ToPolicySet(PresetDefault)
	commit := CommitView{
		Actor:                     Actor{InboxId: "A", IsSuperAdmin: true},
		SuperAdminsRemoved:        []string{"B"},
		PostCommitSuperAdminCount: 0,
	}
	if EvaluateCommit(ps, commit) {
		t.Fatal("expected rejection when super-admin removal would empty the set")
	}
	commit.PostCommitSuperAdminCount = 1
	if !EvaluateCommit(ps, commit) {
		t.Fatal("expected acceptance when a super-admin remains")
	}
}

func TestPolicyWireRoundTrip(t *testing.T) {
	for _, ps := range []PolicySet{
		ToPolicySet(PresetDefault),
		ToPolicySet(PresetAdminsOnly),
		ToPolicySet(PresetDM),
		{
			AddMemberPolicy:    MembershipAny(MembershipAllowSameMember(), MembershipAllowIfAdminOrSuperAdmin()),
			RemoveMemberPolicy: MembershipAnd(MembershipAllowIfAdminOrSuperAdmin(), MembershipDeny()),
			UpdateMetadataPolicy: map[string]MetadataPolicy{
				"group_name": MetadataAllow(),
			},
			AddAdminPolicy:          PermissionsAllowIfSuperAdmin(),
			RemoveAdminPolicy:       PermissionsAllowIfAdminOrSuperAdmin(),
			UpdatePermissionsPolicy: PermissionsAllowIfSuperAdmin(),
		},
	} {
		data, err := ps.ToBytes()
		if err != nil {
			t.Fatal(err)
		}
		restored, err := FromBytes(data)
		if err != nil {
			t.Fatal(err)
		}
		if !ps.Equal(restored) {
			t.Fatalf("round trip mismatch for %+v", ps)
		}
	}
}

func TestPresetRoundTripWithExtendedMetadata(t *testing.T) {
	for _, preset := range []Preset{PresetDefault, PresetAdminsOnly} {
		ps := ToPolicySet(preset)
		// Extend with a brand-new field carrying exactly the rule the
		// preset would already imply for it — must still be detected as
		// the same preset.
		ps.UpdateMetadataPolicy["new_future_field"] = metadataRuleFor(preset, "new_future_field")

		got, ok := FromPolicySet(ps)
		if !ok {
			t.Fatalf("expected preset %d to be detected after metadata extension", preset)
		}
		if got != preset {
			t.Fatalf("expected preset %d, got %d", preset, got)
		}
	}
}
