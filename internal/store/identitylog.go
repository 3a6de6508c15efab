package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/identity"
)

// inboxLog is one inbox's append-only update history, alongside the
// association state produced by replaying each update in order. states[i]
// is the state after updates[0:i+1] has been applied, so sequence id i+1
// (1-indexed) maps to states[i].
type inboxLog struct {
	updates []identity.IdentityUpdate
	states  []*identity.AssociationState
}

// IdentityLogStore persists each inbox's identity update history and
// replays it through an identity.Evaluator, caching the resulting
// association state at every sequence id so installation authorization can
// be answered as of any past point in the log. It also implements
// groups.IdentityLookup, bridging the association log to the group state
// machine's installation-authorization checks without groups importing
// identity directly.
type IdentityLogStore struct {
	mu        sync.Mutex
	evaluator *identity.Evaluator
	logs      map[identity.InboxId]*inboxLog
}

// NewIdentityLogStore constructs an IdentityLogStore backed by evaluator.
func NewIdentityLogStore(evaluator *identity.Evaluator) *IdentityLogStore {
	return &IdentityLogStore{
		evaluator: evaluator,
		logs:      map[identity.InboxId]*inboxLog{},
	}
}

// Append verifies and applies update against inboxId's current state. On
// failure nothing is persisted; the log is left exactly as it was.
func (s *IdentityLogStore) Append(ctx context.Context, update identity.IdentityUpdate) (*identity.AssociationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[update.InboxId]
	var prior *identity.AssociationState
	if log != nil && len(log.states) > 0 {
		prior = log.states[len(log.states)-1]
	}

	next, _, err := s.evaluator.Apply(ctx, prior, update)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = &inboxLog{}
		s.logs[update.InboxId] = log
	}
	log.updates = append(log.updates, update)
	log.states = append(log.states, next)
	return next, nil
}

// StateAt returns the association state after exactly sequenceId updates
// have been applied to inboxId's log (0 meaning no updates yet, which
// returns nil).
func (s *IdentityLogStore) StateAt(inboxId identity.InboxId, sequenceId uint64) (*identity.AssociationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sequenceId == 0 {
		return nil, nil
	}
	log := s.logs[inboxId]
	if log == nil || sequenceId > uint64(len(log.states)) {
		return nil, fmt.Errorf("inbox %q has no update at sequence id %d: %w", inboxId, sequenceId, groups.ErrMissingSequenceId)
	}
	return log.states[sequenceId-1], nil
}

// LatestSequenceId returns the number of updates recorded for inboxId.
func (s *IdentityLogStore) LatestSequenceId(inboxId identity.InboxId) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[inboxId]
	if log == nil {
		return 0
	}
	return uint64(len(log.updates))
}

// AuthorizesInstallations implements groups.IdentityLookup.
func (s *IdentityLogStore) AuthorizesInstallations(ctx context.Context, inboxId string, sequenceId uint64, installationIds []string) (bool, error) {
	state, err := s.StateAt(identity.InboxId(inboxId), sequenceId)
	if err != nil {
		return false, err
	}
	if state == nil {
		return len(installationIds) == 0, nil
	}
	for _, id := range installationIds {
		if !state.HasMember(identity.MemberIdentifier{Kind: identity.KindInstallation, Value: id}) {
			return false, nil
		}
	}
	return true, nil
}

// InstallationsSince implements groups.IdentityLookup.
func (s *IdentityLogStore) InstallationsSince(ctx context.Context, inboxId string, afterSequenceId uint64) (added []string, removed []string, latestSequenceId uint64, err error) {
	id := identity.InboxId(inboxId)
	latest := s.LatestSequenceId(id)

	oldState, err := s.StateAt(id, afterSequenceId)
	if err != nil {
		return nil, nil, latest, err
	}
	newState, err := s.StateAt(id, latest)
	if err != nil {
		return nil, nil, latest, err
	}

	oldInstallations := installationSet(oldState)
	newInstallations := installationSet(newState)

	for inst := range newInstallations {
		if !oldInstallations[inst] {
			added = append(added, inst)
		}
	}
	for inst := range oldInstallations {
		if !newInstallations[inst] {
			removed = append(removed, inst)
		}
	}
	return added, removed, latest, nil
}

func installationSet(state *identity.AssociationState) map[string]bool {
	out := map[string]bool{}
	if state == nil {
		return out
	}
	for _, m := range state.Members {
		if m.Identifier.IsInstallation() {
			out[m.Identifier.Value] = true
		}
	}
	return out
}
