// Package memmls is an in-memory test double for the MLS library
// capability set: a single-member-style epoch ratchet generalized to
// multi-member groups with a real GroupMembership/GroupMutableMetadata/
// GroupMutablePermissions extension set.
//
// It is not a security-bearing MLS implementation: epoch application
// secrets are derived from a shared in-process seed rather than a tree
// key schedule. It exists purely so the sync loop, validated commit
// extractor, and policy engine can be exercised end-to-end in tests.
package memmls

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/convomls/core/internal/cryptoutil"
)

// Network is the shared in-memory backbone standing in for the MLS
// delivery service's key schedule: every member's Library of a group must
// share the same Network to derive matching epoch application secrets.
type Network struct {
	mu    sync.Mutex
	seeds map[string][]byte
}

// NewNetwork constructs an empty backbone.
func NewNetwork() *Network {
	return &Network{seeds: map[string][]byte{}}
}

func (n *Network) seedFor(groupId string, create bool, seed []byte) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.seeds[groupId]; ok {
		return s, nil
	}
	if !create {
		return nil, fmt.Errorf("memmls: group %s not known to this network", groupId)
	}
	n.seeds[groupId] = seed
	return seed, nil
}

// epochAppSecret stands in for the MLS tree key schedule's epoch secret:
// it derives a per-epoch secret from the group's shared network seed.
func epochAppSecret(seed []byte, epoch uint64) []byte {
	info := make([]byte, 8)
	binary.BigEndian.PutUint64(info, epoch)
	r := hkdf.New(sha256.New, seed, nil, info)
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("memmls: hkdf: %v", err))
	}
	return out
}

// messageKey derives the AES-GCM key actually used to protect application
// messages in a given epoch, binding epochAppSecret's epoch secret to the
// "application" purpose via the same derivation real epoch app keys use.
func messageKey(seed []byte, epoch uint64) []byte {
	return cryptoutil.DeriveEpochAppKey(epochAppSecret(seed, epoch), "application", epoch)
}
