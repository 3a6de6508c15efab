package client

import (
	"context"
	"fmt"

	"github.com/convomls/core/internal/cryptoutil"
	"github.com/convomls/core/internal/identity"
)

// SyncGroupIdentities refreshes this client's local identity log for every
// inbox currently a member of groupId. The installation diff resolver
// looks up every member inbox's association log on each pass (not just
// ones named by a pending membership change), so a client that never
// observed a fellow member's identity log needs this before it can run a
// pass over the group at all.
func (c *Client) SyncGroupIdentities(ctx context.Context, groupId string) error {
	view, err := c.GroupView(groupId)
	if err != nil {
		return err
	}
	inboxIds := make([]string, 0, len(view.Membership))
	for inbox := range view.Membership {
		inboxIds = append(inboxIds, inbox)
	}
	return c.SyncIdentity(ctx, inboxIds)
}

func deriveInboxId(initial identity.MemberIdentifier, nonce uint64) identity.InboxId {
	return identity.InboxId(cryptoutil.DeriveInboxId([]byte(initial.Value), nonce))
}

// BeginCreateInbox starts the SignatureRequest that bootstraps a
// brand-new inbox rooted at initialIdentifier. The returned request needs
// exactly one signature — from initialIdentifier itself — before
// FinalizeIdentityUpdate can append it.
func (c *Client) BeginCreateInbox(initialIdentifier identity.MemberIdentifier, nonce uint64, clientTimestampNs int64) (identity.InboxId, *identity.SignatureRequest, error) {
	inboxId := deriveInboxId(initialIdentifier, nonce)
	req, err := identity.NewSignatureRequest(inboxId, clientTimestampNs, []identity.Action{
		{Kind: identity.ActionCreateInbox, InitialIdentifier: initialIdentifier, Nonce: nonce},
	})
	if err != nil {
		return "", nil, fmt.Errorf("begin create inbox: %w", err)
	}
	return inboxId, req, nil
}

// BeginAddInstallation starts the SignatureRequest that authorizes a new
// member identifier (typically this installation's own Ed25519 key) for
// an existing inbox. The returned request needs a signature from
// newMember plus one from an existing member or the recovery identifier.
func (c *Client) BeginAddInstallation(inboxId identity.InboxId, newMember identity.MemberIdentifier, clientTimestampNs int64) (*identity.SignatureRequest, error) {
	req, err := identity.NewSignatureRequest(inboxId, clientTimestampNs, []identity.Action{
		{Kind: identity.ActionAddAssociation, NewMember: newMember},
	})
	if err != nil {
		return nil, fmt.Errorf("begin add installation: %w", err)
	}
	return req, nil
}

// BeginRevokeAssociation starts the SignatureRequest that revokes a
// member identifier from an inbox, requiring a signature from the
// recovery identifier.
func (c *Client) BeginRevokeAssociation(inboxId identity.InboxId, target identity.MemberIdentifier, clientTimestampNs int64) (*identity.SignatureRequest, error) {
	req, err := identity.NewSignatureRequest(inboxId, clientTimestampNs, []identity.Action{
		{Kind: identity.ActionRevokeAssociation, Target: target},
	})
	if err != nil {
		return nil, fmt.Errorf("begin revoke association: %w", err)
	}
	return req, nil
}

// BeginChangeRecoveryAddress starts the SignatureRequest that rotates an
// inbox's recovery identifier, requiring a signature from the current
// recovery identifier.
func (c *Client) BeginChangeRecoveryAddress(inboxId identity.InboxId, newRecovery identity.MemberIdentifier, clientTimestampNs int64) (*identity.SignatureRequest, error) {
	req, err := identity.NewSignatureRequest(inboxId, clientTimestampNs, []identity.Action{
		{Kind: identity.ActionChangeRecoveryAddress, NewRecovery: newRecovery},
	})
	if err != nil {
		return nil, fmt.Errorf("begin change recovery address: %w", err)
	}
	return req, nil
}

// CurrentAssociationState returns the identity log's association state
// for inboxId as of its latest recorded update — callers need this to
// resolve AddSignature's wildcard authorizer/recovery slots.
func (c *Client) CurrentAssociationState(inboxId identity.InboxId) (*identity.AssociationState, error) {
	return c.store.Identity.StateAt(inboxId, c.store.Identity.LatestSequenceId(inboxId))
}

// SyncIdentity pulls each inbox's identity updates since this client's
// local log last observed it and replays them into the identity log, so
// the installation diff resolver sees installations another client
// authorized. The Association Log (A) is otherwise purely local state;
// this is what keeps it current against the network.
func (c *Client) SyncIdentity(ctx context.Context, inboxIds []string) error {
	afterSeq := make(map[string]uint64, len(inboxIds))
	for _, id := range inboxIds {
		afterSeq[id] = c.store.Identity.LatestSequenceId(identity.InboxId(id))
	}

	results, err := c.transport.GetIdentityUpdates(ctx, inboxIds, afterSeq)
	if err != nil {
		return fmt.Errorf("sync identity: %w", err)
	}
	for _, r := range results {
		for _, update := range r.Updates {
			if _, err := c.store.Identity.Append(ctx, update); err != nil {
				return fmt.Errorf("sync identity: inbox %s: %w", r.InboxId, err)
			}
		}
	}
	return nil
}

// FinalizeIdentityUpdate builds req's signed update, failing with
// identity.ErrMissingSigner if a required slot is still unfilled, and
// appends it to the identity log.
func (c *Client) FinalizeIdentityUpdate(ctx context.Context, req *identity.SignatureRequest) (*identity.AssociationState, error) {
	update, err := req.BuildIdentityUpdate()
	if err != nil {
		return nil, fmt.Errorf("finalize identity update: %w", err)
	}
	state, err := c.store.Identity.Append(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("finalize identity update: %w", err)
	}
	return state, nil
}
