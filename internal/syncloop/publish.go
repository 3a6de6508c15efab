package syncloop

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/convomls/core/internal/cryptoutil"
	"github.com/convomls/core/internal/groups"
	"github.com/convomls/core/internal/intents"
	"github.com/convomls/core/internal/mlsiface"
	"github.com/convomls/core/internal/transport"
)

// publishIntents builds and submits the payload for each ToPublish intent
// in insertion order. Publishing a commit-bearing intent (anything but
// SendMessage) stops the pass so its envelope is observed through receive
// before any further commit is published — this avoids stacking local
// commits in flight.
func (g *GroupSync) publishIntents(ctx context.Context) error {
	toPublish := g.deps.Store.Intents.Find(g.GroupId(), []intents.State{intents.StateToPublish}, nil)

	for _, it := range toPublish {
		commitPayload, postCommit, err := g.buildPublishPayload(ctx, it)
		if err != nil {
			if !Retryable(err) {
				messageId, setErr := g.deps.Store.Intents.SetError(it.Id)
				if setErr != nil {
					return permanent(fmt.Errorf("publish intent %s: set error: %w", it.Id, setErr))
				}
				g.markMessageFailed(messageId)
				g.log.Warn("intent publish failed permanently", zap.String("id", it.Id), zap.Error(err))
				continue
			}
			if exceeded, incErr := g.deps.Store.Intents.IncrementPublishAttempts(it.Id); incErr != nil {
				return permanent(fmt.Errorf("publish intent %s: increment attempts: %w", it.Id, incErr))
			} else if exceeded {
				g.markMessageFailed(it.MessageId)
				g.log.Warn("intent exceeded publish attempt bound", zap.String("id", it.Id))
			}
			return err // abort this pass on the first transient failure.
		}

		payloadHash := cryptoutil.ContentHash(commitPayload)
		epoch := g.deps.MlsGroup.Epoch()

		var stagedCommitBytes []byte
		isCommit := false
		if sc, ok := g.deps.MlsGroup.PendingCommit(); ok {
			isCommit = true
			if data, err := json.Marshal(sc); err == nil {
				stagedCommitBytes = data
			}
		}

		if err := g.deps.Store.Intents.SetPublished(it.Id, payloadHash, postCommit, stagedCommitBytes, epoch); err != nil {
			return permanent(fmt.Errorf("publish intent %s: record published: %w", it.Id, err))
		}

		envelope := transport.ClientEnvelope{
			AuthenticatedData: transport.AuthenticatedData{TargetTopic: g.deps.topic()},
			Kind:              transport.PayloadGroupMessage,
			Payload:           commitPayload,
		}
		wire, err := json.Marshal(envelope)
		if err != nil {
			return permanent(fmt.Errorf("publish intent %s: marshal client envelope: %w", it.Id, err))
		}
		if err := g.deps.Transport.Publish(ctx, []transport.PayerEnvelope{{
			UnsignedClientEnvelopeBytes: wire,
			TargetOriginator:            g.deps.OriginatorId,
		}}); err != nil {
			return retryable(fmt.Errorf("publish intent %s: transport publish: %w", it.Id, err))
		}

		if isCommit {
			// Don't publish a second commit before observing this one
			// through the receive path.
			break
		}
	}
	return nil
}

// markMessageFailed sets the owning message row's delivery status to
// Failed when a SendMessage intent has a message id attached; a nil
// messageId means the intent wasn't a SendMessage.
func (g *GroupSync) markMessageFailed(messageId *string) {
	if messageId == nil {
		return
	}
	if err := g.deps.Store.Messages.MarkFailed(*messageId); err != nil {
		g.log.Warn("mark message failed", zap.String("message_id", *messageId), zap.Error(err))
	}
}

// buildPublishPayload builds the wire payload get_publish_intent_data
// would produce for it, against the MLS group's current state, plus any
// post-commit action data to persist alongside it.
func (g *GroupSync) buildPublishPayload(ctx context.Context, it intents.Intent) (payload []byte, postCommitData []byte, err error) {
	view := g.deps.MlsGroup.Extensions()

	switch it.Kind {
	case intents.KindSendMessage:
		data, err := decodeSendMessageData(it.Data)
		if err != nil {
			return nil, nil, permanent(err)
		}
		ap := applicationPayload{
			SenderInboxId:        g.deps.Signer.InboxId(),
			SenderInstallationId: g.deps.Signer.InstallationId(),
			ContentTypeId:        data.ContentTypeId,
			Content:              data.Content,
			InReplyTo:            data.InReplyTo,
		}
		raw, err := json.Marshal(ap)
		if err != nil {
			return nil, nil, permanent(fmt.Errorf("marshal application payload: %w", err))
		}
		commit, err := g.deps.MlsGroup.CreateMessage(ctx, g.deps.Signer, raw)
		if err != nil {
			return nil, nil, retryable(fmt.Errorf("create application message: %w", err))
		}
		return commit.Payload, nil, nil

	case intents.KindKeyUpdate:
		commit, err := g.deps.MlsGroup.SelfUpdate(ctx, g.deps.Signer)
		if err != nil {
			return nil, nil, retryable(fmt.Errorf("self update: %w", err))
		}
		return commit.Payload, nil, nil

	case intents.KindUpdateGroupMembership:
		return g.buildMembershipUpdate(ctx, view, it.Data)

	case intents.KindMetadataUpdate:
		data, err := decodeMetadataData(it.Data)
		if err != nil {
			return nil, nil, permanent(err)
		}
		next := view
		next.Metadata.Fields = mergeFields(view.Metadata.Fields, data.Fields)
		commit, err := g.deps.MlsGroup.UpdateGroupContextExtensions(ctx, g.deps.Signer, next)
		if err != nil {
			return nil, nil, retryable(fmt.Errorf("update group context extensions: %w", err))
		}
		return commit.Payload, nil, nil

	case intents.KindUpdateAdminList:
		data, err := decodeAdminListData(it.Data)
		if err != nil {
			return nil, nil, permanent(err)
		}
		next := view
		next.Metadata.Admins = applySet(view.Metadata.Admins, data.AddAdmins, data.RemoveAdmins)
		next.Metadata.SuperAdmins = applySet(view.Metadata.SuperAdmins, data.AddSuperAdmins, data.RemoveSuperAdmins)
		commit, err := g.deps.MlsGroup.UpdateGroupContextExtensions(ctx, g.deps.Signer, next)
		if err != nil {
			return nil, nil, retryable(fmt.Errorf("update admin list: %w", err))
		}
		return commit.Payload, nil, nil

	case intents.KindUpdatePermission:
		ps, err := decodePermissionData(it.Data)
		if err != nil {
			return nil, nil, permanent(err)
		}
		next := view
		next.Permissions = groups.GroupMutablePermissions{PolicySet: ps}
		commit, err := g.deps.MlsGroup.UpdateGroupContextExtensions(ctx, g.deps.Signer, next)
		if err != nil {
			return nil, nil, retryable(fmt.Errorf("update permissions: %w", err))
		}
		return commit.Payload, nil, nil

	default:
		return nil, nil, permanent(fmt.Errorf("publish intent %s: unknown kind %v", it.Id, it.Kind))
	}
}

// buildMembershipUpdate resolves the installation diff against the
// explicit inbox adds/removes this intent carries, fetches key packages
// for newly-added installations, and builds the membership commit.
func (g *GroupSync) buildMembershipUpdate(ctx context.Context, view groups.GroupView, rawData []byte) ([]byte, []byte, error) {
	diffData, err := decodeMembershipData(rawData)
	if err != nil {
		return nil, nil, permanent(err)
	}

	instDiff, newMembership, err := groups.ResolveInstallationDiff(ctx, g.deps.Store.Identity, view.Membership,
		groups.MembershipDiff{AddedInboxes: diffData.AddedInboxes, RemovedInboxes: diffData.RemovedInboxes},
		g.deps.Signer.InstallationId())
	if err != nil {
		return nil, nil, retryable(fmt.Errorf("resolve installation diff: %w", err))
	}

	removedInstallationIds := map[string]bool{}
	for _, inst := range instDiff.RemovedInstallations {
		removedInstallationIds[inst.InstallationId] = true
	}
	for _, inbox := range diffData.RemovedInboxes {
		for _, inst := range view.Installations {
			if inst.InboxId == inbox {
				removedInstallationIds[inst.InstallationId] = true
			}
		}
	}

	var leavesToRemove []int
	for _, member := range g.deps.MlsGroup.Members() {
		if removedInstallationIds[member.InstallationId] {
			leavesToRemove = append(leavesToRemove, member.LeafIndex)
		}
	}

	var newInstallations []groups.Installation
	for _, inst := range view.Installations {
		if !removedInstallationIds[inst.InstallationId] {
			newInstallations = append(newInstallations, inst)
		}
	}
	for _, inst := range instDiff.AddedInstallations {
		newInstallations = append(newInstallations, inst)
	}

	var newKeyPackageIds []string
	for _, inst := range instDiff.AddedInstallations {
		newKeyPackageIds = append(newKeyPackageIds, inst.InstallationId)
	}
	var newKeyPackages []mlsiface.KeyPackage
	if len(newKeyPackageIds) > 0 {
		results, err := g.deps.Transport.FetchKeyPackages(ctx, newKeyPackageIds)
		if err != nil {
			return nil, nil, retryable(fmt.Errorf("fetch key packages: %w", err))
		}
		for _, r := range results {
			if !r.Found {
				return nil, nil, retryable(fmt.Errorf("key package not yet available for installation %s", r.InstallationId))
			}
			newKeyPackages = append(newKeyPackages, r.KeyPackage)
		}
	}

	next := view
	next.Installations = newInstallations
	next.Membership = newMembership

	commit, welcome, err := g.deps.MlsGroup.UpdateGroupMembership(ctx, g.deps.Signer, newKeyPackages, leavesToRemove, next)
	if err != nil {
		return nil, nil, retryable(fmt.Errorf("update group membership: %w", err))
	}

	var postCommitData []byte
	if welcome != nil && len(welcome.Recipients) > 0 {
		pc := postCommitPayload{Payload: welcome.Payload}
		for _, r := range welcome.Recipients {
			pc.WelcomeTopics = append(pc.WelcomeTopics, fmt.Sprintf("welcome:%s", r))
		}
		if data, err := json.Marshal(pc); err == nil {
			postCommitData = data
		}
	}
	return commit.Payload, postCommitData, nil
}

func mergeFields(base, updates map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}

func applySet(base, add, remove []string) []string {
	set := map[string]bool{}
	for _, s := range base {
		set[s] = true
	}
	for _, s := range remove {
		delete(set, s)
	}
	for _, s := range add {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}
