package client

import (
	"context"
	"fmt"

	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/identity"
	"github.com/convomls/core/internal/intents"
	"github.com/convomls/core/internal/mlsiface"
	"github.com/convomls/core/internal/policy"
	"github.com/convomls/core/internal/syncloop"
)

// baseGroupView seeds a brand-new group's extension state at epoch 0 with
// this installation as its sole member.
func (c *Client) baseGroupView(metadataFields map[string]string, preset policy.Preset) groups.GroupView {
	ownSeq := c.store.Identity.LatestSequenceId(identity.InboxId(c.signer.InboxId()))
	return groups.GroupView{
		Epoch:         0,
		Installations: []groups.Installation{{InboxId: c.signer.InboxId(), InstallationId: c.signer.InstallationId()}},
		Membership:    groups.GroupMembership{c.signer.InboxId(): ownSeq},
		Metadata:      groups.GroupMutableMetadata{Fields: metadataFields},
		Permissions:   groups.GroupMutablePermissions{PolicySet: policy.ToPolicySet(preset)},
	}
}

func (c *Client) createGroup(ctx context.Context, groupId string, initial groups.GroupView, originatorId uint32) (groups.GroupView, error) {
	if _, err := c.entry(groupId); err == nil {
		return groups.GroupView{}, fmt.Errorf("create group %s: %w", groupId, ErrGroupAlreadyLoaded)
	}
	mlsGroup, err := c.mlsLibrary.CreateGroup(ctx, groupId, c.signer, initial)
	if err != nil {
		return groups.GroupView{}, fmt.Errorf("create group %s: %w", groupId, err)
	}
	c.registerGroup(mlsGroup, originatorId)
	return mlsGroup.Extensions(), nil
}

// CreateGroup creates a brand-new group seeded with this installation as
// its sole member, the named permission preset, and the given metadata
// fields, then registers it for syncing under originatorId.
func (c *Client) CreateGroup(ctx context.Context, groupId string, preset policy.Preset, metadataFields map[string]string, originatorId uint32) (groups.GroupView, error) {
	return c.createGroup(ctx, groupId, c.baseGroupView(metadataFields, preset), originatorId)
}

// CreateDirectMessage creates a two-party DM group under PresetDM
// permissions, pairing this inbox with otherInboxId.
func (c *Client) CreateDirectMessage(ctx context.Context, groupId, otherInboxId string, originatorId uint32) (groups.GroupView, error) {
	initial := c.baseGroupView(nil, policy.PresetDM)
	initial.DM = &groups.DMPairing{MemberOne: c.signer.InboxId(), MemberTwo: otherInboxId}
	return c.createGroup(ctx, groupId, initial, originatorId)
}

// JoinGroup installs a local replica of the group welcome was addressed
// to and registers it for syncing under originatorId.
func (c *Client) JoinGroup(ctx context.Context, welcome *mlsiface.Welcome, originatorId uint32) (groups.GroupView, error) {
	if welcome == nil {
		return groups.GroupView{}, ErrNilWelcome
	}
	mlsGroup, err := c.mlsLibrary.Join(ctx, welcome)
	if err != nil {
		return groups.GroupView{}, fmt.Errorf("join group: %w", err)
	}
	if _, err := c.entry(mlsGroup.GroupId()); err == nil {
		return groups.GroupView{}, fmt.Errorf("join group %s: %w", mlsGroup.GroupId(), ErrGroupAlreadyLoaded)
	}
	c.registerGroup(mlsGroup, originatorId)
	return mlsGroup.Extensions(), nil
}

// welcomeTopic is the per-installation topic other members address a
// Welcome to when adding this installation to a group (the
// "welcome:<installationId>" convention the sync loop's post-commit action
// publishes under).
func (c *Client) welcomeTopic() string {
	return fmt.Sprintf("welcome:%s", c.signer.InstallationId())
}

// PollWelcomes fetches any welcomes addressed to this installation since
// the last call, joins each referenced group, registers it for syncing
// under originatorId, and returns every newly joined group's view.
func (c *Client) PollWelcomes(ctx context.Context, originatorId uint32) ([]groups.GroupView, error) {
	topic := c.welcomeTopic()
	cursor := c.store.Cursors.Get(topic)

	envelopes, err := c.transport.QueryEnvelopes(ctx, topic, cursor, 0)
	if err != nil {
		return nil, fmt.Errorf("poll welcomes: %w", err)
	}

	views := make([]groups.GroupView, 0, len(envelopes))
	for i, env := range envelopes {
		seq := cursor + uint64(i) + 1
		view, err := c.JoinGroup(ctx, &mlsiface.Welcome{Payload: env.UnsignedOriginatorEnvelopeBytes}, originatorId)
		if err != nil {
			return views, fmt.Errorf("poll welcomes: join at sequence %d: %w", seq, err)
		}
		views = append(views, view)
		if err := c.store.Cursors.Advance(topic, seq); err != nil {
			return views, fmt.Errorf("poll welcomes: advance cursor: %w", err)
		}
	}
	return views, nil
}

func (c *Client) queueAndWait(ctx context.Context, groupId string, kind intents.Kind, data []byte) error {
	gs, err := c.groupSync(groupId)
	if err != nil {
		return err
	}
	intentId := c.store.Intents.Queue(groupId, kind, data)
	return gs.SyncUntilIntentResolved(ctx, intentId)
}

// AddMembers queues an inbox-level membership addition and waits for it to
// publish and merge.
func (c *Client) AddMembers(ctx context.Context, groupId string, inboxIds []string) error {
	data := syncloop.EncodeIntentData(syncloop.MembershipIntentData{AddedInboxes: inboxIds})
	return c.queueAndWait(ctx, groupId, intents.KindUpdateGroupMembership, data)
}

// RemoveMembers queues an inbox-level membership removal and waits for it
// to publish and merge.
func (c *Client) RemoveMembers(ctx context.Context, groupId string, inboxIds []string) error {
	data := syncloop.EncodeIntentData(syncloop.MembershipIntentData{RemovedInboxes: inboxIds})
	return c.queueAndWait(ctx, groupId, intents.KindUpdateGroupMembership, data)
}

// UpdateMetadata queues a group_mutable_metadata field update, merged over
// the group's current fields at publish time, and waits for it to
// resolve.
func (c *Client) UpdateMetadata(ctx context.Context, groupId string, fields map[string]string) error {
	data := syncloop.EncodeIntentData(syncloop.MetadataIntentData{Fields: fields})
	return c.queueAndWait(ctx, groupId, intents.KindMetadataUpdate, data)
}

// UpdateAdmins queues an admin/super-admin list change and waits for it to
// resolve.
func (c *Client) UpdateAdmins(ctx context.Context, groupId string, addAdmins, removeAdmins, addSuperAdmins, removeSuperAdmins []string) error {
	data := syncloop.EncodeIntentData(syncloop.AdminListIntentData{
		AddAdmins:         addAdmins,
		RemoveAdmins:      removeAdmins,
		AddSuperAdmins:    addSuperAdmins,
		RemoveSuperAdmins: removeSuperAdmins,
	})
	return c.queueAndWait(ctx, groupId, intents.KindUpdateAdminList, data)
}

// UpdatePermissions queues a replacement PolicySet for the group and waits
// for it to resolve.
func (c *Client) UpdatePermissions(ctx context.Context, groupId string, ps policy.PolicySet) error {
	psBytes, err := ps.ToBytes()
	if err != nil {
		return fmt.Errorf("update permissions: %w", err)
	}
	data := syncloop.EncodeIntentData(syncloop.PermissionIntentData{PolicySetBytes: psBytes})
	return c.queueAndWait(ctx, groupId, intents.KindUpdatePermission, data)
}
