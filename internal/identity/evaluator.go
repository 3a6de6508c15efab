package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Evaluator replays a time-ordered stream of signed identity updates into
// an AssociationState.
type Evaluator struct {
	scw ScwVerifier
	log *zap.Logger
}

// NewEvaluator constructs an Evaluator. log may be nil (a no-op logger is
// used).
func NewEvaluator(scw ScwVerifier, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{scw: scw, log: log}
}

// Apply verifies and applies a single IdentityUpdate against prior, the
// state derived so far (nil/empty for an inbox's first update), and returns
// the new state plus the diff the update produced. On any failure prior is
// returned unmodified conceptually — the caller's existing *AssociationState
// is never mutated; Apply always operates on a clone.
func (e *Evaluator) Apply(ctx context.Context, prior *AssociationState, update IdentityUpdate) (*AssociationState, AssociationStateDiff, error) {
	state := prior.Clone()
	if state.InboxId == "" {
		state.InboxId = update.InboxId
	}

	if len(update.Actions) == 0 {
		return prior, AssociationStateDiff{}, ErrEmptyActions
	}

	// 1. timestamp strictly increasing.
	if len(state.Members) > 0 || state.LastClientTimestamp != 0 {
		if update.ClientTimestampNs <= state.LastClientTimestamp {
			return prior, AssociationStateDiff{}, ErrTimestampNotIncreasing
		}
	}

	// 2+3. verify every signature against the canonical text; reject replays.
	text := CanonicalText(update.InboxId, update.ClientTimestampNs, update.Actions)
	signers := make([]MemberIdentifier, 0, len(update.Signatures))
	for _, sig := range update.Signatures {
		if state.alreadySeen(sig.Bytes) {
			return prior, AssociationStateDiff{}, ErrReplayedSignature
		}
		signer, err := recoveredSigner(ctx, text, sig, e.scw)
		if err != nil {
			return prior, AssociationStateDiff{}, err
		}
		signers = append(signers, signer)
	}

	// first update for an inbox must be CreateInbox.
	isFirstUpdate := len(state.Members) == 0 && state.RecoveryIdentifier.Value == ""
	if isFirstUpdate && update.Actions[0].Kind != ActionCreateInbox {
		return prior, AssociationStateDiff{}, ErrNotFirstCreateInbox
	}
	if !isFirstUpdate {
		for _, a := range update.Actions {
			if a.Kind == ActionCreateInbox {
				return prior, AssociationStateDiff{}, ErrCreateInboxNotFirst
			}
		}
	}

	diff := AssociationStateDiff{}
	for _, a := range update.Actions {
		switch a.Kind {
		case ActionCreateInbox:
			if err := applyCreateInbox(state, a, signers); err != nil {
				return prior, AssociationStateDiff{}, err
			}
			diff.AddedMembers = append(diff.AddedMembers, Member{Identifier: a.InitialIdentifier, AddedByEntity: a.InitialIdentifier})

		case ActionAddAssociation:
			added, err := applyAddAssociation(state, a, signers)
			if err != nil {
				return prior, AssociationStateDiff{}, err
			}
			diff.AddedMembers = append(diff.AddedMembers, added)

		case ActionRevokeAssociation:
			removed, err := applyRevokeAssociation(state, a, signers)
			if err != nil {
				return prior, AssociationStateDiff{}, err
			}
			diff.RemovedMembers = append(diff.RemovedMembers, removed...)

		case ActionChangeRecoveryAddress:
			if err := applyChangeRecovery(state, a, signers); err != nil {
				return prior, AssociationStateDiff{}, err
			}
			diff.RecoveryChanged = true

		default:
			return prior, AssociationStateDiff{}, fmt.Errorf("unknown action kind %d", a.Kind)
		}
	}

	if len(state.Members) == 0 {
		return prior, AssociationStateDiff{}, ErrWouldEmptyInbox
	}

	for _, sig := range update.Signatures {
		state.markSeen(sig.Bytes)
	}
	state.LastClientTimestamp = update.ClientTimestampNs

	e.log.Debug("identity update applied",
		zap.String("inbox_id", string(update.InboxId)),
		zap.Int64("client_timestamp_ns", update.ClientTimestampNs),
		zap.Int("added", len(diff.AddedMembers)),
		zap.Int("removed", len(diff.RemovedMembers)),
		zap.Bool("recovery_changed", diff.RecoveryChanged),
	)

	return state, diff, nil
}

// Replay folds a full ordered update stream into a final AssociationState,
// stopping at the first invalid update (the whole log up to that point is
// unaffected). It is pure and order-batching independent: splitting the
// stream and calling Replay repeatedly on the prefixes produces the same
// final state.
func (e *Evaluator) Replay(ctx context.Context, inbox InboxId, updates []IdentityUpdate) (*AssociationState, error) {
	state := NewEmptyState(inbox)
	for _, u := range updates {
		next, _, err := e.Apply(ctx, state, u)
		if err != nil {
			return nil, fmt.Errorf("identity update at ts=%d: %w", u.ClientTimestampNs, err)
		}
		state = next
	}
	return state, nil
}

func containsSigner(signers []MemberIdentifier, id MemberIdentifier) bool {
	for _, s := range signers {
		if s.Equal(id) {
			return true
		}
	}
	return false
}

func applyCreateInbox(state *AssociationState, a Action, signers []MemberIdentifier) error {
	if !containsSigner(signers, a.InitialIdentifier) {
		return fmt.Errorf("%w: CreateInbox requires a signature from the initial identifier", ErrUnknownSigner)
	}
	state.RecoveryIdentifier = a.InitialIdentifier
	state.Members = []Member{{Identifier: a.InitialIdentifier, AddedByEntity: a.InitialIdentifier}}
	return nil
}

func applyAddAssociation(state *AssociationState, a Action, signers []MemberIdentifier) (Member, error) {
	if state.HasMember(a.NewMember) {
		return Member{}, fmt.Errorf("%w: %s", ErrMemberAlreadyExists, a.NewMember)
	}
	var authorizer MemberIdentifier
	foundAuthorizer := false
	for _, s := range signers {
		if state.IsRecoveryOrMember(s) {
			authorizer = s
			foundAuthorizer = true
			break
		}
	}
	if !foundAuthorizer {
		return Member{}, fmt.Errorf("%w: AddAssociation requires a signature from an existing member or the recovery identifier", ErrMissingSigner)
	}
	if !containsSigner(signers, a.NewMember) {
		return Member{}, fmt.Errorf("%w: AddAssociation requires a signature from the new identifier", ErrMissingSigner)
	}
	m := Member{Identifier: a.NewMember, AddedByEntity: authorizer}
	state.Members = append(state.Members, m)
	return m, nil
}

func applyRevokeAssociation(state *AssociationState, a Action, signers []MemberIdentifier) ([]Member, error) {
	if !containsSigner(signers, state.RecoveryIdentifier) {
		return nil, fmt.Errorf("%w: RevokeAssociation requires a signature from the recovery identifier", ErrMissingSigner)
	}
	if !state.HasMember(a.Target) {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, a.Target)
	}

	removed := pruneMember(state, a.Target)
	return removed, nil
}

// pruneMember removes target and, transitively, any member whose
// added_by_entity chain no longer reaches a still-present member (an
// installation-revocation cascade).
func pruneMember(state *AssociationState, target MemberIdentifier) []Member {
	remaining := make([]Member, 0, len(state.Members))
	removed := make([]Member, 0, 1)
	for _, m := range state.Members {
		if m.Identifier.Equal(target) {
			removed = append(removed, m)
			continue
		}
		remaining = append(remaining, m)
	}
	state.Members = remaining

	// Repeatedly prune members whose authorizer chain no longer reaches a
	// present member (and isn't the recovery identifier, which is always
	// considered reachable).
	for {
		present := map[string]bool{}
		for _, m := range state.Members {
			present[m.Identifier.String()] = true
		}
		var next []Member
		var newlyRemoved []Member
		for _, m := range state.Members {
			if m.AddedByEntity.Equal(state.RecoveryIdentifier) || present[m.AddedByEntity.String()] {
				next = append(next, m)
				continue
			}
			newlyRemoved = append(newlyRemoved, m)
		}
		if len(newlyRemoved) == 0 {
			break
		}
		state.Members = next
		removed = append(removed, newlyRemoved...)
	}
	return removed
}

func applyChangeRecovery(state *AssociationState, a Action, signers []MemberIdentifier) error {
	if !containsSigner(signers, state.RecoveryIdentifier) {
		return fmt.Errorf("%w: ChangeRecoveryAddress requires a signature from the current recovery identifier", ErrMissingSigner)
	}
	if a.NewRecovery.IsInstallation() {
		return ErrInstallationAsRecovery
	}
	state.RecoveryIdentifier = a.NewRecovery
	return nil
}
