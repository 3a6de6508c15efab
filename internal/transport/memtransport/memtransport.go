// Package memtransport is an in-memory Transport double: a single
// sequencer assigning monotonic per-topic sequence ids, adapted from the
// teacher's filesystem-backed storage idiom (internal/storage) but kept
// entirely in memory since the wire transport is explicitly out of scope.
package memtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/convomls/core/internal/identity"
	"github.com/convomls/core/internal/mlsiface"
	"github.com/convomls/core/internal/transport"
)

// Transport is an in-process fake implementing transport.Transport: every
// client sharing one Transport instance simulates a miniature network.
type Transport struct {
	mu sync.Mutex

	nextSeq map[string]uint64 // topic -> next sequence id
	logs    map[string][]transport.OriginatorEnvelope

	subscribers map[string][]chan transport.OriginatorEnvelope

	keyPackages map[string]mlsiface.KeyPackage // installationId -> key package
	identities  map[string][]identity.IdentityUpdate
	addresses   map[string]string // address -> inbox id
}

// New constructs an empty Transport.
func New() *Transport {
	return &Transport{
		nextSeq:     map[string]uint64{},
		logs:        map[string][]transport.OriginatorEnvelope{},
		subscribers: map[string][]chan transport.OriginatorEnvelope{},
		keyPackages: map[string]mlsiface.KeyPackage{},
		identities:  map[string][]identity.IdentityUpdate{},
		addresses:   map[string]string{},
	}
}

// Publish appends each envelope's payload to its target topic's log,
// assigning the next sequence id, and fans it out to subscribers.
func (t *Transport) Publish(ctx context.Context, envelopes []transport.PayerEnvelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, pe := range envelopes {
		topic := fmt.Sprintf("originator:%d", pe.TargetOriginator)
		t.nextSeq[topic]++

		env := transport.OriginatorEnvelope{
			UnsignedOriginatorEnvelopeBytes: pe.UnsignedClientEnvelopeBytes,
		}
		t.logs[topic] = append(t.logs[topic], env)
		for _, ch := range t.subscribers[topic] {
			select {
			case ch <- env:
			default:
			}
		}
	}
	return nil
}

// PublishToTopic is the test-facing entry point used by callers that
// already know their topic (the sync loop addresses groups by topic, not
// by originator id — this fake keys its log directly by topic for
// simplicity).
func (t *Transport) PublishToTopic(ctx context.Context, topic string, payload []byte) (sequenceId uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSeq[topic]++
	seq := t.nextSeq[topic]
	env := transport.OriginatorEnvelope{UnsignedOriginatorEnvelopeBytes: payload}
	t.logs[topic] = append(t.logs[topic], env)
	for _, ch := range t.subscribers[topic] {
		select {
		case ch <- env:
		default:
		}
	}
	return seq, nil
}

func (t *Transport) QueryEnvelopes(ctx context.Context, targetTopic string, afterCursor uint64, limit int) ([]transport.OriginatorEnvelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := t.logs[targetTopic]
	if afterCursor >= uint64(len(all)) {
		return nil, nil
	}
	out := all[afterCursor:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]transport.OriginatorEnvelope(nil), out...), nil
}

func (t *Transport) Subscribe(ctx context.Context, topics []string, lastSeen transport.Cursor) (<-chan transport.OriginatorEnvelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan transport.OriginatorEnvelope, 64)
	for _, topic := range topics {
		t.subscribers[topic] = append(t.subscribers[topic], ch)
	}
	return ch, nil
}

func (t *Transport) FetchKeyPackages(ctx context.Context, installationIds []string) ([]transport.KeyPackageResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]transport.KeyPackageResult, 0, len(installationIds))
	for _, id := range installationIds {
		kp, ok := t.keyPackages[id]
		out = append(out, transport.KeyPackageResult{InstallationId: id, KeyPackage: kp, Found: ok})
	}
	return out, nil
}

// UploadKeyPackage registers an installation's join material — stands in
// for the real publish path's upload_key_package variant.
func (t *Transport) UploadKeyPackage(installationId string, kp mlsiface.KeyPackage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyPackages[installationId] = kp
}

func (t *Transport) PublishWelcomes(ctx context.Context, welcomes []transport.WelcomeInput) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range welcomes {
		t.nextSeq[w.TargetTopic]++
		env := transport.OriginatorEnvelope{UnsignedOriginatorEnvelopeBytes: w.Payload}
		t.logs[w.TargetTopic] = append(t.logs[w.TargetTopic], env)
	}
	return nil
}

func (t *Transport) GetIdentityUpdates(ctx context.Context, inboxIds []string, afterSequenceIds map[string]uint64) ([]transport.IdentityUpdatesResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]transport.IdentityUpdatesResult, 0, len(inboxIds))
	for _, inbox := range inboxIds {
		all := t.identities[inbox]
		after := afterSequenceIds[inbox]
		var slice []identity.IdentityUpdate
		if after < uint64(len(all)) {
			slice = all[after:]
		}
		out = append(out, transport.IdentityUpdatesResult{InboxId: inbox, Updates: slice, SequenceId: uint64(len(all))})
	}
	return out, nil
}

// RecordIdentityUpdate appends an update to inbox's log — the counterpart
// of publishing an IdentityUpdate payload through Publish.
func (t *Transport) RecordIdentityUpdate(inboxId string, update identity.IdentityUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.identities[inboxId] = append(t.identities[inboxId], update)
}

func (t *Transport) GetInboxIds(ctx context.Context, addresses []string) ([]transport.AddressInboxMapping, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.AddressInboxMapping, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, transport.AddressInboxMapping{Address: addr, InboxId: t.addresses[addr]})
	}
	return out, nil
}

// RegisterAddress binds a wallet/installation address to an inbox id, for
// GetInboxIds to resolve.
func (t *Transport) RegisterAddress(address, inboxId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addresses[address] = inboxId
}

var _ transport.Transport = (*Transport)(nil)
