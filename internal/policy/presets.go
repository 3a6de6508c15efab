package policy

// Preset names one of the three canned PolicySet shapes.
type Preset int

const (
	PresetDefault Preset = iota
	PresetAdminsOnly
	PresetDM
)

// memberEditableMetadataFields are the well-known group metadata fields
// "Default" leaves member-editable. Any field NOT in this list (and not
// minimumProtocolVersionField below) falls back to the metadata
// domain's own default (AllowIfAdminOrSuperAdmin, or AllowIfSuperAdmin for
// the reserved prefix) exactly as an unlisted field would for any other
// PolicySet — new fields are conservative-by-default until a client
// explicitly widens them.
var memberEditableMetadataFields = []string{"group_name", "description", "group_image_url_square"}

// disappearingMessageFields are the metadata fields "Default" reserves for
// admin-only editing (disappearing-message TTL settings).
var disappearingMessageFields = []string{"message_disappear_from_ns", "message_disappear_in_ns"}

// minimumProtocolVersionField is reserved super-admin-only under "Default".
const minimumProtocolVersionField = "min_supported_protocol_version"

// ToPolicySet builds the concrete PolicySet for a named preset. For Default
// and AdminsOnly the metadata map only lists the fields whose preset rule
// differs from what the domain's own fallback would already produce for an
// absent entry — this keeps ToPolicySet(p) minimal, so extending a caller's
// copy with additional fields carrying that same implied default never
// breaks preset detection. DM lists the well-known fields as Allow; any
// other field of a DM group is evaluated under the domain's fallback
// (AllowIfAdminOrSuperAdmin, or AllowIfSuperAdmin for the reserved prefix).
func ToPolicySet(p Preset) PolicySet {
	switch p {
	case PresetDefault:
		ps := PolicySet{
			AddMemberPolicy:         MembershipAllow(),
			RemoveMemberPolicy:      MembershipAllowIfAdminOrSuperAdmin(),
			UpdateMetadataPolicy:    map[string]MetadataPolicy{},
			AddAdminPolicy:          PermissionsAllowIfSuperAdmin(),
			RemoveAdminPolicy:       PermissionsAllowIfSuperAdmin(),
			UpdatePermissionsPolicy: PermissionsAllowIfSuperAdmin(),
		}
		for _, f := range memberEditableMetadataFields {
			ps.UpdateMetadataPolicy[f] = MetadataAllow()
		}
		// disappearingMessageFields already match the domain's own fallback
		// (AllowIfAdminOrSuperAdmin), so they're deliberately omitted here.
		// minimumProtocolVersionField lacks the reserved super-admin prefix,
		// so it is listed explicitly.
		ps.UpdateMetadataPolicy[minimumProtocolVersionField] = MetadataAllowIfSuperAdmin()
		return ps

	case PresetAdminsOnly:
		return PolicySet{
			AddMemberPolicy:         MembershipAllowIfAdminOrSuperAdmin(),
			RemoveMemberPolicy:      MembershipAllowIfAdminOrSuperAdmin(),
			UpdateMetadataPolicy:    map[string]MetadataPolicy{},
			AddAdminPolicy:          PermissionsAllowIfSuperAdmin(),
			RemoveAdminPolicy:       PermissionsAllowIfSuperAdmin(),
			UpdatePermissionsPolicy: PermissionsAllowIfSuperAdmin(),
		}

	case PresetDM:
		ps := PolicySet{
			AddMemberPolicy:         MembershipDeny(),
			RemoveMemberPolicy:      MembershipDeny(),
			UpdateMetadataPolicy:    map[string]MetadataPolicy{},
			AddAdminPolicy:          PermissionsDeny(),
			RemoveAdminPolicy:       PermissionsDeny(),
			UpdatePermissionsPolicy: PermissionsDeny(),
		}
		for _, f := range memberEditableMetadataFields {
			ps.UpdateMetadataPolicy[f] = MetadataAllow()
		}
		for _, f := range disappearingMessageFields {
			ps.UpdateMetadataPolicy[f] = MetadataAllow()
		}
		ps.UpdateMetadataPolicy[minimumProtocolVersionField] = MetadataAllow()
		return ps

	default:
		return PolicySet{}
	}
}

// metadataRuleFor returns the rule preset assigns to fieldName, whether or
// not it is one of the preset's explicitly-listed fields. For Default this
// is exactly what a ToPolicySet(PresetDefault) group evaluates; for
// AdminsOnly and DM it is the preset's blanket rule, which such a group
// applies to its listed fields only (see ToPolicySet).
func metadataRuleFor(preset Preset, fieldName string) MetadataPolicy {
	switch preset {
	case PresetDefault:
		for _, f := range memberEditableMetadataFields {
			if f == fieldName {
				return MetadataAllow()
			}
		}
		if fieldName == minimumProtocolVersionField {
			return MetadataAllowIfSuperAdmin()
		}
		return defaultMetadataPolicyFor(fieldName)
	case PresetAdminsOnly:
		return MetadataAllowIfAdminOrSuperAdmin()
	case PresetDM:
		return MetadataAllow()
	default:
		return defaultMetadataPolicyFor(fieldName)
	}
}

// FromPolicySet detects which preset, if any, ps is equivalent to, using a
// forward-compatible comparison: for metadata, a field present in only one
// side is ignored; a field present in both must match the preset's rule
// for that field.
func FromPolicySet(ps PolicySet) (Preset, bool) {
	for _, preset := range []Preset{PresetDefault, PresetAdminsOnly, PresetDM} {
		if equivalentToPreset(ps, preset) {
			return preset, true
		}
	}
	return 0, false
}

func equivalentToPreset(ps PolicySet, preset Preset) bool {
	want := ToPolicySet(preset)
	if !policyEqual(ps.AddMemberPolicy, want.AddMemberPolicy) {
		return false
	}
	if !policyEqual(ps.RemoveMemberPolicy, want.RemoveMemberPolicy) {
		return false
	}
	if !policyEqual(ps.AddAdminPolicy, want.AddAdminPolicy) {
		return false
	}
	if !policyEqual(ps.RemoveAdminPolicy, want.RemoveAdminPolicy) {
		return false
	}
	if !policyEqual(ps.UpdatePermissionsPolicy, want.UpdatePermissionsPolicy) {
		return false
	}
	for field, p := range ps.UpdateMetadataPolicy {
		if _, shared := want.UpdateMetadataPolicy[field]; !shared {
			continue
		}
		if !policyEqual(p, metadataRuleFor(preset, field)) {
			return false
		}
	}
	return true
}

func policyEqual(a, b Policy) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == KindBase {
		return a.Base == b.Base
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !policyEqual(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
