package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// requiredSigner names one pending signature slot: an action index and the
// identifier expected to fill it.
type requiredSigner struct {
	actionIndex int
	identifier  MemberIdentifier
	role        string // "new_member" | "authorizer" | "recovery"
}

// SignatureRequest assembles a batch of unsigned identity-update actions,
// tracks which signer is required per field, admits signatures, and emits
// the signed IdentityUpdate.
type SignatureRequest struct {
	ID                string
	inboxId           InboxId
	clientTimestampNs int64
	actions           []Action
	required          []requiredSigner
	collected         map[string]Signature // keyed by MemberIdentifier.String()

	// acceptedRolesMap tracks, per collected signer, which wildcard roles
	// ("authorizer", "recovery") they were accepted for.
	acceptedRolesMap map[string]map[string]bool
}

// NewSignatureRequest begins assembling a request for the given actions. A
// wildcard required-signer slot is added automatically for any action that
// needs authorization from an existing identifier: "authorizer" for
// AddAssociation, "recovery" for RevokeAssociation and
// ChangeRecoveryAddress; callers resolve that slot by calling AddSignature
// with whichever member's signature they intend to use.
func NewSignatureRequest(inbox InboxId, clientTimestampNs int64, actions []Action) (*SignatureRequest, error) {
	if len(actions) == 0 {
		return nil, ErrEmptyActions
	}
	r := &SignatureRequest{
		ID:                uuid.NewString(),
		inboxId:           inbox,
		clientTimestampNs: clientTimestampNs,
		actions:           actions,
		collected:         map[string]Signature{},
	}
	for i, a := range actions {
		switch a.Kind {
		case ActionCreateInbox:
			r.required = append(r.required, requiredSigner{i, a.InitialIdentifier, "new_member"})
		case ActionAddAssociation:
			r.required = append(r.required, requiredSigner{i, a.NewMember, "new_member"})
			r.required = append(r.required, requiredSigner{i, MemberIdentifier{}, "authorizer"})
		case ActionRevokeAssociation:
			r.required = append(r.required, requiredSigner{i, MemberIdentifier{}, "recovery"})
		case ActionChangeRecoveryAddress:
			r.required = append(r.required, requiredSigner{i, MemberIdentifier{}, "recovery"})
		default:
			return nil, fmt.Errorf("unknown action kind %d", a.Kind)
		}
	}
	return r, nil
}

// CanonicalText is the text every signature in this request must commit
// over.
func (r *SignatureRequest) CanonicalText() []byte {
	return CanonicalText(r.inboxId, r.clientTimestampNs, r.actions)
}

// MissingSignatures returns a descriptor ("action[i]:role", plus
// ":identifier" for named slots) for each pending-required slot that has
// not been filled yet. "authorizer" and "recovery" wildcard slots
// count as filled once ANY acceptable signer has been collected for them;
// named slots ("new_member", role-bound to a specific identifier) require
// exactly that identifier.
func (r *SignatureRequest) MissingSignatures() []string {
	var missing []string
	for _, req := range r.required {
		if req.role == "new_member" {
			if _, ok := r.collected[req.identifier.String()]; !ok {
				missing = append(missing, fmt.Sprintf("action[%d]:%s:%s", req.actionIndex, req.role, req.identifier))
			}
			continue
		}
		// wildcard roles (authorizer/recovery): filled if at least one
		// signature with a matching accepted role was collected.
		if !r.hasRoleFilled(req.role) {
			missing = append(missing, fmt.Sprintf("action[%d]:%s", req.actionIndex, req.role))
		}
	}
	return missing
}

func (r *SignatureRequest) hasRoleFilled(role string) bool {
	for _, roles := range r.acceptedRolesMap {
		if roles[role] {
			return true
		}
	}
	return false
}

func (r *SignatureRequest) init() {
	if r.acceptedRolesMap == nil {
		r.acceptedRolesMap = map[string]map[string]bool{}
	}
}

// AddSignature verifies sig against the request's canonical text, derives
// the signer identifier, and rejects it if that signer fills no pending
// slot (ErrUnknownSigner). Callers resolving an "authorizer"/"recovery"
// wildcard slot pass the AssociationState so membership can be checked.
func (r *SignatureRequest) AddSignature(ctx context.Context, sig Signature, scw ScwVerifier, state *AssociationState) error {
	r.init()
	signer, err := recoveredSigner(ctx, r.CanonicalText(), sig, scw)
	if err != nil {
		return err
	}

	accepted := false
	roles := map[string]bool{}
	for _, req := range r.required {
		switch req.role {
		case "new_member":
			if req.identifier.Equal(signer) {
				accepted = true
				roles["new_member"] = true
			}
		case "authorizer":
			if state != nil && state.IsRecoveryOrMember(signer) {
				accepted = true
				roles["authorizer"] = true
			}
		case "recovery":
			if state != nil && state.RecoveryIdentifier.Equal(signer) {
				accepted = true
				roles["recovery"] = true
			}
		}
	}
	if !accepted {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, signer)
	}

	r.collected[signer.String()] = sig
	r.acceptedRolesMap[signer.String()] = roles
	return nil
}

// ResolveBlockNumber fills in the pending block number for a
// smart-contract-wallet signature previously stored under signer.
func (r *SignatureRequest) ResolveBlockNumber(signer MemberIdentifier, blockNumber uint64) error {
	sig, ok := r.collected[signer.String()]
	if !ok {
		return fmt.Errorf("%w: no signature collected for %s", ErrMissingSigner, signer)
	}
	sig.BlockNumber = &blockNumber
	r.collected[signer.String()] = sig
	return nil
}

// BuildIdentityUpdate emits the signed IdentityUpdate once every required
// slot is filled, or ErrMissingSigner otherwise. It also fails
// ErrBlockNumberUnresolved if a collected SCW signature still lacks a
// block number.
func (r *SignatureRequest) BuildIdentityUpdate() (IdentityUpdate, error) {
	if missing := r.MissingSignatures(); len(missing) > 0 {
		return IdentityUpdate{}, fmt.Errorf("%w: %v", ErrMissingSigner, missing)
	}
	sigs := make([]Signature, 0, len(r.collected))
	for _, sig := range r.collected {
		if sig.Kind == SigSmartContractWallet && sig.BlockNumber == nil {
			return IdentityUpdate{}, ErrBlockNumberUnresolved
		}
		sigs = append(sigs, sig)
	}
	return IdentityUpdate{
		InboxId:           r.inboxId,
		ClientTimestampNs: r.clientTimestampNs,
		Actions:           r.actions,
		Signatures:        sigs,
	}, nil
}
