// Package policy implements the Permission Policy Engine: a typed tree of
// membership/metadata/permissions policies evaluated against a validated
// commit.
package policy

// PolicyKind distinguishes a leaf base policy from an And/Any combinator.
type PolicyKind int

const (
	KindBase PolicyKind = iota
	KindAnd
	KindAny
)

// BaseKind enumerates every base-policy predicate across the three policy
// families. Not every family admits every base: PermissionsPolicy has no
// Allow base (permission changes must always be authenticated) — see
// baseOf().
type BaseKind int

const (
	BaseAllow BaseKind = iota
	BaseDeny
	BaseAllowSameMember
	BaseAllowIfAdminOrSuperAdmin
	BaseAllowIfSuperAdmin
)

// domain tags which policy family a Policy node belongs to, purely to
// enforce the "no Allow base for permissions" restriction at construction
// time.
type domain int

const (
	domainMembership domain = iota
	domainMetadata
	domainPermissions
)

// Policy is the shared recursive representation behind MembershipPolicy,
// MetadataPolicy, and PermissionsPolicy: Base(kind) | And(children) |
// Any(children).
type Policy struct {
	Kind     PolicyKind `json:"kind"`
	Base     BaseKind   `json:"base,omitempty"`
	Children []Policy   `json:"children,omitempty"`
}

func baseOf(d domain, b BaseKind) Policy {
	if d == domainPermissions && b == BaseAllow {
		// Structurally disallowed: collapse to Deny rather than silently
		// authorize an unauthenticated permission change.
		b = BaseDeny
	}
	return Policy{Kind: KindBase, Base: b}
}

func andOf(children ...Policy) Policy { return Policy{Kind: KindAnd, Children: children} }
func anyOf(children ...Policy) Policy { return Policy{Kind: KindAny, Children: children} }

// MembershipPolicy governs add_member_policy / remove_member_policy.
type MembershipPolicy = Policy

// MetadataPolicy governs one metadata field's update_metadata_policy entry.
type MetadataPolicy = Policy

// PermissionsPolicy governs add_admin_policy / remove_admin_policy /
// update_permissions_policy.
type PermissionsPolicy = Policy

func MembershipAllow() MembershipPolicy           { return baseOf(domainMembership, BaseAllow) }
func MembershipDeny() MembershipPolicy            { return baseOf(domainMembership, BaseDeny) }
func MembershipAllowSameMember() MembershipPolicy { return baseOf(domainMembership, BaseAllowSameMember) }
func MembershipAllowIfAdminOrSuperAdmin() MembershipPolicy {
	return baseOf(domainMembership, BaseAllowIfAdminOrSuperAdmin)
}
func MembershipAllowIfSuperAdmin() MembershipPolicy {
	return baseOf(domainMembership, BaseAllowIfSuperAdmin)
}
func MembershipAnd(children ...MembershipPolicy) MembershipPolicy { return andOf(children...) }
func MembershipAny(children ...MembershipPolicy) MembershipPolicy { return anyOf(children...) }

func MetadataAllow() MetadataPolicy           { return baseOf(domainMetadata, BaseAllow) }
func MetadataDeny() MetadataPolicy            { return baseOf(domainMetadata, BaseDeny) }
func MetadataAllowSameMember() MetadataPolicy { return baseOf(domainMetadata, BaseAllowSameMember) }
func MetadataAllowIfAdminOrSuperAdmin() MetadataPolicy {
	return baseOf(domainMetadata, BaseAllowIfAdminOrSuperAdmin)
}
func MetadataAllowIfSuperAdmin() MetadataPolicy { return baseOf(domainMetadata, BaseAllowIfSuperAdmin) }

func PermissionsDeny() PermissionsPolicy { return baseOf(domainPermissions, BaseDeny) }
func PermissionsAllowIfAdminOrSuperAdmin() PermissionsPolicy {
	return baseOf(domainPermissions, BaseAllowIfAdminOrSuperAdmin)
}
func PermissionsAllowIfSuperAdmin() PermissionsPolicy {
	return baseOf(domainPermissions, BaseAllowIfSuperAdmin)
}

// SuperAdminMetadataPrefix is the reserved metadata field-name prefix whose
// default policy is AllowIfSuperAdmin.
const SuperAdminMetadataPrefix = "super_admin_"

// PolicySet is the six-field declarative authorization policy for a group.
type PolicySet struct {
	AddMemberPolicy         MembershipPolicy          `json:"add_member_policy"`
	RemoveMemberPolicy      MembershipPolicy          `json:"remove_member_policy"`
	UpdateMetadataPolicy    map[string]MetadataPolicy `json:"update_metadata_policy"`
	AddAdminPolicy          PermissionsPolicy         `json:"add_admin_policy"`
	RemoveAdminPolicy       PermissionsPolicy         `json:"remove_admin_policy"`
	UpdatePermissionsPolicy PermissionsPolicy         `json:"update_permissions_policy"`
}

// metadataPolicyFor returns the policy governing fieldName, falling back to
// the default when no explicit entry exists.
func (ps PolicySet) metadataPolicyFor(fieldName string) MetadataPolicy {
	if p, ok := ps.UpdateMetadataPolicy[fieldName]; ok {
		return p
	}
	return defaultMetadataPolicyFor(fieldName)
}

func defaultMetadataPolicyFor(fieldName string) MetadataPolicy {
	if hasPrefix(fieldName, SuperAdminMetadataPrefix) {
		return MetadataAllowIfSuperAdmin()
	}
	return MetadataAllowIfAdminOrSuperAdmin()
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
