package syncloop

import (
	"encoding/json"
	"fmt"

	"github.com/convomls/core/internal/policy"
)

// MembershipIntentData is the Data payload of a KindUpdateGroupMembership
// intent: the inbox-level adds/removes a caller decided on. Installation
// diffing beyond these explicit adds/removes (new installations published
// for already-member inboxes) is resolved fresh at publish time via
// groups.ResolveInstallationDiff, so it is never encoded here.
type MembershipIntentData struct {
	AddedInboxes   []string `json:"added_inboxes,omitempty"`
	RemovedInboxes []string `json:"removed_inboxes,omitempty"`
}

// AdminListIntentData is the Data payload of a KindUpdateAdminList intent.
type AdminListIntentData struct {
	AddAdmins         []string `json:"add_admins,omitempty"`
	RemoveAdmins      []string `json:"remove_admins,omitempty"`
	AddSuperAdmins    []string `json:"add_super_admins,omitempty"`
	RemoveSuperAdmins []string `json:"remove_super_admins,omitempty"`
}

// MetadataIntentData is the Data payload of a KindMetadataUpdate intent:
// the fields the caller wants written, merged over the group's current
// metadata fields at publish time.
type MetadataIntentData struct {
	Fields map[string]string `json:"fields"`
}

// PermissionIntentData is the Data payload of a KindUpdatePermission
// intent: the PolicySet's at-rest encoding, round-tripped through
// policy.FromBytes at publish time.
type PermissionIntentData struct {
	PolicySetBytes []byte `json:"policy_set"`
}

// SendMessageIntentData is the Data payload of a KindSendMessage intent.
type SendMessageIntentData struct {
	ContentTypeId string `json:"content_type_id"`
	Content       []byte `json:"content"`
	InReplyTo     string `json:"in_reply_to,omitempty"`
}

// EncodeIntentData marshals an intent's Data payload (one of the types
// above) for intents.Queue.Queue. Every payload type is a plain struct of
// strings/byte slices/maps, so marshaling cannot fail.
func EncodeIntentData(v any) []byte {
	return encodeJSON(v)
}

func encodeJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("syncloop: marshal intent data: %v", err))
	}
	return data
}

func decodeMembershipData(data []byte) (MembershipIntentData, error) {
	var d MembershipIntentData
	if err := json.Unmarshal(data, &d); err != nil {
		return MembershipIntentData{}, fmt.Errorf("decode membership intent data: %w", err)
	}
	return d, nil
}

func decodeAdminListData(data []byte) (AdminListIntentData, error) {
	var d AdminListIntentData
	if err := json.Unmarshal(data, &d); err != nil {
		return AdminListIntentData{}, fmt.Errorf("decode admin-list intent data: %w", err)
	}
	return d, nil
}

func decodeMetadataData(data []byte) (MetadataIntentData, error) {
	var d MetadataIntentData
	if err := json.Unmarshal(data, &d); err != nil {
		return MetadataIntentData{}, fmt.Errorf("decode metadata intent data: %w", err)
	}
	return d, nil
}

func decodePermissionData(data []byte) (policy.PolicySet, error) {
	var d PermissionIntentData
	if err := json.Unmarshal(data, &d); err != nil {
		return policy.PolicySet{}, fmt.Errorf("decode permission intent data: %w", err)
	}
	ps, err := policy.FromBytes(d.PolicySetBytes)
	if err != nil {
		return policy.PolicySet{}, fmt.Errorf("decode permission intent data: %w", err)
	}
	return ps, nil
}

func decodeSendMessageData(data []byte) (SendMessageIntentData, error) {
	var d SendMessageIntentData
	if err := json.Unmarshal(data, &d); err != nil {
		return SendMessageIntentData{}, fmt.Errorf("decode send-message intent data: %w", err)
	}
	return d, nil
}
