package policy

import (
	"encoding/json"
	"fmt"
)

// ToBytes serializes a PolicySet to its persistence representation.
// Deliberately not a protobuf wire codec — this is the policy's own
// at-rest encoding, stored inside the GroupMutablePermissions extension
// blob by the caller.
func (ps PolicySet) ToBytes() ([]byte, error) {
	data, err := json.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("marshal policy set: %w", err)
	}
	return data, nil
}

// FromBytes parses a PolicySet previously produced by ToBytes. Go's
// encoding/json marshals map[string]... keys in sorted order and preserves
// slice/struct field order on decode, so ToBytes/FromBytes round-trip
// exactly for every constructible PolicySet.
func FromBytes(data []byte) (PolicySet, error) {
	var ps PolicySet
	if err := json.Unmarshal(data, &ps); err != nil {
		return PolicySet{}, fmt.Errorf("unmarshal policy set: %w", err)
	}
	if ps.UpdateMetadataPolicy == nil {
		ps.UpdateMetadataPolicy = map[string]MetadataPolicy{}
	}
	return ps, nil
}

// Equal reports whether two PolicySets are structurally identical (used by
// the round-trip laws and by the validated commit extractor to detect
// permissions_changed).
func (ps PolicySet) Equal(other PolicySet) bool {
	a, err := ps.ToBytes()
	if err != nil {
		return false
	}
	b, err := other.ToBytes()
	if err != nil {
		return false
	}
	return string(a) == string(b)
}
